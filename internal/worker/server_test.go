package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/nanoimg/internal/config"
	"github.com/dunamismax/nanoimg/internal/domain"
	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/dunamismax/nanoimg/internal/queue"
	"github.com/dunamismax/nanoimg/internal/store"
	"github.com/dunamismax/nanoimg/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestServer(t *testing.T, jobStore *store.MemoryJobStore, hooks webhook.Sender) *Server {
	t.Helper()

	optimizer, err := nano.NewDefaultOptimizer()
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}
	s, err := NewServer(
		log.New(io.Discard, "", 0),
		config.QueueConfig{RedisAddr: "127.0.0.1:0", Name: "default"},
		config.WorkerConfig{Concurrency: 1, MaxActiveJobs: 1, LocalOutputDir: t.TempDir()},
		Deps{Optimizer: optimizer, Webhooks: hooks, JobStore: jobStore},
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return s
}

func seedJob(t *testing.T, jobStore *store.MemoryJobStore, id, objectKey string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         id,
		UserID:     "user-1",
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  objectKey,
		Options:    nano.DefaultConfig(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func writeSourcePNG(t *testing.T, w, h int) (string, int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}

	path := filepath.Join(t.TempDir(), "source.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write source png: %v", err)
	}
	return path, buf.Len()
}

func TestProcessLocalJobSucceeds(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, jobStore, hooks)

	sourcePath, sourceBytes := writeSourcePNG(t, 32, 16)
	seedJob(t, jobStore, "job-1", sourcePath)

	err := s.process(context.Background(), queue.OptimizeImagePayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.invalid/nanoimg",
		ObjectKey:  sourcePath,
		Options:    nano.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("process returned error: %v", err)
	}

	job, ok, _ := jobStore.Get(context.Background(), "job-1")
	if !ok || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded job, got %+v", job)
	}
	if job.Output == nil || job.Output.InputBytes != sourceBytes {
		t.Fatalf("expected output with input_bytes=%d, got %+v", sourceBytes, job.Output)
	}
	if _, err := os.Stat(job.Output.Path); err != nil {
		t.Fatalf("expected optimized output on disk: %v", err)
	}

	logs := jobStore.UsageLogs()
	if len(logs) != 1 || logs[0].UserID != "user-1" || logs[0].PixelsProcessed != 32*16 {
		t.Fatalf("unexpected usage logs %+v", logs)
	}

	events := hooks.events()
	if len(events) != 1 || events[0] != webhook.EventJobCompleted {
		t.Fatalf("expected one job.completed webhook, got %v", events)
	}
	if got := counterValue(t, s.metrics.jobsTotal.WithLabelValues(domain.SourceTypeLocalFile, domain.JobStatusSucceeded)); got != 1 {
		t.Fatalf("expected succeeded counter 1, got %v", got)
	}
}

func TestProcessUndecodableSourceSkipsRetry(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	hooks := &captureWebhooks{}
	s := newTestServer(t, jobStore, hooks)

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	if err := os.WriteFile(garbage, []byte("definitely not a png"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	seedJob(t, jobStore, "job-2", garbage)

	err := s.process(context.Background(), queue.OptimizeImagePayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.invalid/nanoimg",
		ObjectKey:  garbage,
		Options:    nano.DefaultConfig(),
	})
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if !errors.Is(err, nano.ErrDecode) {
		t.Fatalf("expected decode error kind, got %v", err)
	}

	job, _, _ := jobStore.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", job)
	}
	if events := hooks.events(); len(events) != 1 || events[0] != webhook.EventJobFailed {
		t.Fatalf("expected one job.failed webhook, got %v", events)
	}
}

func TestProcessObjectSourceWithoutStorageIsUnsupported(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	s := newTestServer(t, jobStore, nil)

	err := s.process(context.Background(), queue.OptimizeImagePayload{
		JobID:      "job-3",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-3/source",
		Options:    nano.DefaultConfig(),
	})
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for unsupported source, got %v", err)
	}
}

func TestProcessWebhookFailureDoesNotFailJob(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	hooks := &captureWebhooks{err: errors.New("connection refused")}
	s := newTestServer(t, jobStore, hooks)

	sourcePath, _ := writeSourcePNG(t, 8, 8)
	seedJob(t, jobStore, "job-4", sourcePath)

	err := s.process(context.Background(), queue.OptimizeImagePayload{
		JobID:      "job-4",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.invalid/nanoimg",
		ObjectKey:  sourcePath,
		Options:    nano.ExtremeCompression(),
	})
	if err != nil {
		t.Fatalf("expected success despite webhook failure, got %v", err)
	}
	if got := counterValue(t, s.metrics.webhookFailures.WithLabelValues(webhook.EventJobCompleted)); got != 1 {
		t.Fatalf("expected one webhook failure, got %v", got)
	}
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	seedJob(t, jobStore, "job-5", "input.png")

	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		jobStore:   jobStore,
		usageStore: usageStore,
		metrics:    newMetrics(),
		now:        time.Now,
	}

	s.recordUsage(context.Background(), "job-5", domain.JobOutput{
		Width:       20,
		Height:      25,
		InputBytes:  1_000,
		OutputBytes: 700,
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.UserID != "user-1" {
		t.Fatalf("expected user_id=user-1, got %s", usageStore.log.UserID)
	}
	if usageStore.log.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.BytesSaved != 300 {
		t.Fatalf("expected bytes_saved=300, got %d", usageStore.log.BytesSaved)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsNegativeBytesSaved(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
		now:        time.Now,
	}

	s.recordUsage(context.Background(), "job-6", domain.JobOutput{
		Width:       5,
		Height:      5,
		InputBytes:  100,
		OutputBytes: 200,
	}, 0)

	if usageStore.log.UserID != "anonymous" {
		t.Fatalf("expected anonymous user, got %s", usageStore.log.UserID)
	}
	if usageStore.log.BytesSaved != 0 {
		t.Fatalf("expected bytes_saved=0, got %d", usageStore.log.BytesSaved)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestFinalAttemptWithoutTaskContext(t *testing.T) {
	if !finalAttempt(context.Background()) {
		t.Fatal("expected a context without retry metadata to be the final attempt")
	}
}

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

type captureWebhooks struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *captureWebhooks) Send(_ context.Context, _, event string, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	return c.err
}

func (c *captureWebhooks) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}
