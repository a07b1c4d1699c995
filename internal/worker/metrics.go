package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/nanoimg/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var jobLabels = []string{"source_type", "status"}

type metrics struct {
	registry         *prometheus.Registry
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	encodedBytes     *prometheus.CounterVec
	compressionRatio prometheus.Histogram
	webhookFailures  *prometheus.CounterVec
	pixels           prometheus.Counter
	bytesSaved       prometheus.Counter
	computeMillis    prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanoimg", Subsystem: subsystem, Name: name, Help: help,
		})
	}

	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "jobs_total",
			Help: "Worker job attempts by source type and outcome.",
		}, jobLabels),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "job_duration_seconds",
			Help:    "Wall time of each worker job attempt.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, jobLabels),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "active_jobs",
			Help: "Jobs currently holding an optimization slot.",
		}),
		encodedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "encoded_bytes_total",
			Help: "Encoded bytes read and written by successful jobs.",
		}, []string{"direction"}),
		compressionRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "compression_ratio",
			Help:    "Output size divided by input size per successful job.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 15),
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanoimg", Subsystem: "worker", Name: "webhook_failures_total",
			Help: "Webhook deliveries that exhausted their attempts.",
		}, []string{"event"}),
		pixels:        counter("usage", "pixels_processed_total", "Pixels processed across all successful jobs."),
		bytesSaved:    counter("usage", "bytes_saved_total", "Bytes saved across all successful jobs."),
		computeMillis: counter("usage", "compute_time_ms_total", "Compute time in milliseconds across successful jobs."),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal, m.jobDuration, m.activeJobs, m.encodedBytes, m.compressionRatio,
		m.webhookFailures, m.pixels, m.bytesSaved, m.computeMillis,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeAttempt(sourceType, outcome string, elapsed time.Duration) {
	m.jobsTotal.WithLabelValues(sourceType, outcome).Inc()
	m.jobDuration.WithLabelValues(sourceType, outcome).Observe(elapsed.Seconds())
}

func (m *metrics) observeOutput(output domain.JobOutput) {
	m.encodedBytes.WithLabelValues("input").Add(float64(output.InputBytes))
	m.encodedBytes.WithLabelValues("output").Add(float64(output.OutputBytes))
	if output.InputBytes > 0 {
		m.compressionRatio.Observe(float64(output.OutputBytes) / float64(output.InputBytes))
	}
}

func (m *metrics) observeUsage(usage domain.UsageLog) {
	m.pixels.Add(float64(usage.PixelsProcessed))
	m.bytesSaved.Add(float64(usage.BytesSaved))
	m.computeMillis.Add(float64(usage.ComputeTimeMS))
}
