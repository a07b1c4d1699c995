package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/nanoimg/internal/api"
	"github.com/dunamismax/nanoimg/internal/codec"
	"github.com/dunamismax/nanoimg/internal/config"
	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/dunamismax/nanoimg/internal/queue"
	"github.com/dunamismax/nanoimg/internal/ratelimit"
	"github.com/dunamismax/nanoimg/internal/storage"
	"github.com/dunamismax/nanoimg/internal/store"
	"github.com/dunamismax/nanoimg/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "nanoimg-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer flushTracing(logger, shutdownTracing)

	if err := codec.Startup(); err != nil {
		logger.Fatalf("codec startup failed: %v", err)
	}
	defer codec.Shutdown()

	optimizer, err := nano.NewDefaultOptimizer()
	if err != nil {
		logger.Fatalf("optimizer init failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	jobStore, closeStore := openJobStore(ctx, logger, cfg.Database)
	defer closeStore()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage client init failed: %v", err)
	}
	ensureBucket(ctx, logger, storageClient)

	limiter, closeLimiter := newRateLimiter(logger, cfg)
	defer closeLimiter()

	app := api.NewServer(logger, queueClient, jobStore, storageClient, optimizer, api.Config{
		PresignTTL:            cfg.API.PresignTTL,
		MaxUploadBytes:        cfg.API.MaxUploadBytes,
		DefaultPreset:         cfg.Optimizer.DefaultPreset,
		RateLimiter:           limiter,
		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
		Tracer:                telemetry.Tracer("api"),
	})

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s default_preset=%s max_upload_bytes=%d", cfg.API.Addr, cfg.Optimizer.DefaultPreset, cfg.API.MaxUploadBytes)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func openJobStore(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig) (store.JobStore, func()) {
	if cfg.DSN == "" {
		logger.Printf("POSTGRES_DSN unset, using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pg, err := store.NewPostgresJobStore(connectCtx, cfg.DSN)
	if err != nil {
		logger.Fatalf("postgres init failed: %v", err)
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
}

func ensureBucket(ctx context.Context, logger *log.Logger, client *storage.Client) {
	bucketCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.EnsureBucket(bucketCtx); err != nil {
		logger.Printf("object storage unavailable bucket=%s err=%v", client.Bucket(), err)
	}
}

func newRateLimiter(logger *log.Logger, cfg config.Config) (ratelimit.Limiter, func()) {
	if !cfg.RateLimit.Enabled {
		logger.Printf("rate limiting disabled")
		return nil, func() {}
	}

	if cfg.RateLimit.Backend == config.RateLimitBackendMemory {
		limiter, err := ratelimit.NewMemoryTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.Window)
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		return limiter, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisTokenBucket(client, cfg.RateLimit.Capacity, cfg.RateLimit.Window, ratelimit.DefaultKeyPrefix)
	if err != nil {
		logger.Fatalf("rate limiter init failed: %v", err)
	}
	logger.Printf("rate limiting enabled backend=redis capacity=%d window=%s", cfg.RateLimit.Capacity, cfg.RateLimit.Window)
	return limiter, func() {
		if err := client.Close(); err != nil {
			logger.Printf("redis close error: %v", err)
		}
	}
}

func flushTracing(logger *log.Logger, shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Printf("tracing shutdown error: %v", err)
	}
}
