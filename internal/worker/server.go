package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/nanoimg/internal/config"
	"github.com/dunamismax/nanoimg/internal/domain"
	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/dunamismax/nanoimg/internal/pipeline"
	"github.com/dunamismax/nanoimg/internal/queue"
	"github.com/dunamismax/nanoimg/internal/store"
	"github.com/dunamismax/nanoimg/internal/telemetry"
	"github.com/dunamismax/nanoimg/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processors    map[string]*pipeline.Processor
	webhookClient webhook.Sender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
	now           func() time.Time
}

type Deps struct {
	Optimizer pipeline.Optimizer
	// Storage enables s3_presigned jobs; nil leaves only local_file.
	Storage    pipeline.ObjectStorage
	Webhooks   webhook.Sender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Optimizer == nil {
		return nil, errors.New("optimizer is required")
	}

	processors := make(map[string]*pipeline.Processor, 2)
	localProcessor, err := pipeline.NewLocalProcessor(deps.Optimizer, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}
	processors[domain.SourceTypeLocalFile] = localProcessor

	if deps.Storage != nil {
		objectProcessor, err := pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: deps.Storage},
			deps.Optimizer,
			pipeline.ObjectStoreEmitter{Storage: deps.Storage},
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		processors[domain.SourceTypeS3Presigned] = objectProcessor
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processors:    processors,
		webhookClient: deps.Webhooks,
		jobStore:      deps.JobStore,
		usageStore:    usageStore,
		metrics:       newMetrics(),
		tracer:        telemetry.Tracer("worker"),
		now:           time.Now,
	}
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeOptimizeImage, s.handleOptimizeImage)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleOptimizeImage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseOptimizeImagePayload(task)
	if err != nil {
		return err
	}
	return s.process(ctx, payload)
}

func (s *Server) process(ctx context.Context, payload queue.OptimizeImagePayload) error {
	startedAt := s.now()
	outcome := domain.JobStatusFailed

	ctx, span := s.tracer.Start(ctx, "worker.optimize_image", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Bool("job.quantize", payload.Options.EnableColorQuantization),
		attribute.Bool("job.color_limit", payload.Options.EnableColorLimit),
	)
	defer span.End()
	defer func() {
		s.metrics.observeAttempt(payload.SourceType, outcome, time.Since(startedAt))
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.run(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "optimize failed")
		return s.fail(ctx, payload, err)
	}

	output := result.JobOutput()
	compute := s.now().Sub(startedAt)
	s.logger.Printf(
		"Optimized job_id=%s input_bytes=%d output_bytes=%d channels=%d elapsed=%s",
		payload.JobID,
		output.InputBytes,
		output.OutputBytes,
		output.Channels,
		compute.Round(time.Millisecond),
	)
	s.finishJob(ctx, payload.JobID, &output, "")
	s.metrics.observeOutput(output)
	usage := s.recordUsage(ctx, payload.JobID, output, compute)

	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusSucceeded,
		OutputPath:  output.Path,
		InputBytes:  output.InputBytes,
		OutputBytes: output.OutputBytes,
		BytesSaved:  int(usage.BytesSaved),
		OccurredAt:  s.now().UTC(),
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "optimized")
	return nil
}

func (s *Server) run(ctx context.Context, payload queue.OptimizeImagePayload) (pipeline.Result, error) {
	processor, ok := s.processors[strings.ToLower(payload.SourceType)]
	if !ok {
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
	return processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Options:    payload.Options,
	})
}

// fail marks the job failed once no further attempt will be made. Errors that
// cannot succeed on retry skip the remaining attempts.
func (s *Server) fail(ctx context.Context, payload queue.OptimizeImagePayload, err error) error {
	permanent := isPermanent(err)
	if !permanent && !finalAttempt(ctx) {
		s.logger.Printf("job attempt failed job_id=%s err=%v", payload.JobID, err)
		return fmt.Errorf("optimize job %s: %w", payload.JobID, err)
	}

	s.logger.Printf("job failed job_id=%s permanent=%t err=%v", payload.JobID, permanent, err)
	s.finishJob(ctx, payload.JobID, nil, err.Error())
	s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusFailed,
		Error:      err.Error(),
		OccurredAt: s.now().UTC(),
	})

	if permanent {
		return fmt.Errorf("optimize job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return fmt.Errorf("optimize job %s: %w", payload.JobID, err)
}

func isPermanent(err error) bool {
	return errors.Is(err, nano.ErrDecode) ||
		errors.Is(err, nano.ErrInvalidConfig) ||
		errors.Is(err, nano.ErrInvalidInputSpec) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return !ok || retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) finishJob(ctx context.Context, jobID string, output *domain.JobOutput, failure string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, output, failure); err != nil {
		s.logger.Printf("job finish failed job_id=%s err=%v", jobID, err)
	}
}

// dispatchWebhook logs and counts delivery failures; they never fail the job.
func (s *Server) dispatchWebhook(ctx context.Context, payload queue.OptimizeImagePayload, event string, body webhook.JobEvent) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, jobID string, output domain.JobOutput, compute time.Duration) domain.UsageLog {
	userID := ""
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		} else if ok {
			userID = strings.TrimSpace(job.UserID)
		}
	}

	usage := domain.NewUsageLog(userID, jobID, output, compute, s.now())
	if s.usageStore == nil {
		return usage
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return usage
	}

	s.metrics.observeUsage(usage)
	return usage
}
