// Package config loads process settings from the environment. Unset or
// unparsable variables fall back to their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/nanoimg/internal/nano"
	"github.com/hibiken/asynq"
)

const (
	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"
)

type Config struct {
	API       APIConfig
	Optimizer OptimizerConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	PresignTTL     time.Duration
}

type OptimizerConfig struct {
	DefaultPreset string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects Postgres when DSN is set, the in-memory store otherwise.
type DatabaseConfig struct {
	DSN string
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	Enabled      bool
	Backend      string
	Capacity     int
	Window       time.Duration
	UserIDHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:           env("NANOIMG_API_ADDR", ":8080"),
			MaxUploadBytes: envInt64("NANOIMG_MAX_UPLOAD_BYTES", 32<<20),
			PresignTTL:     envDuration("NANOIMG_PRESIGN_TTL", 15*time.Minute),
		},
		Optimizer: OptimizerConfig{
			DefaultPreset: env("NANOIMG_DEFAULT_PRESET", nano.PresetDefault),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("NANOIMG_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("NANOIMG_WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("NANOIMG_WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("NANOIMG_WORKER_OUTPUT_DIR", "./.nanoimg-output"),
			MetricsAddr:    env("NANOIMG_WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "nanoimg-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Tracing: TracingConfig{
			Exporter:     env("NANOIMG_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("NANOIMG_TRACE_INSECURE", true),
			SampleRatio:  envFloat("NANOIMG_TRACE_SAMPLE_RATIO", 1),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("NANOIMG_RATE_LIMIT_ENABLED", true),
			Backend:      strings.ToLower(env("NANOIMG_RATE_LIMIT_BACKEND", RateLimitBackendRedis)),
			Capacity:     envInt("NANOIMG_RATE_LIMIT_CAPACITY", 60),
			Window:       envDuration("NANOIMG_RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("NANOIMG_RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("NANOIMG_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("NANOIMG_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("NANOIMG_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("NANOIMG_WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("NANOIMG_WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

// Validate reports settings that would make a binary misbehave at runtime.
func (c Config) Validate() error {
	var errs []error
	if _, err := nano.Preset(c.Optimizer.DefaultPreset); err != nil {
		errs = append(errs, fmt.Errorf("NANOIMG_DEFAULT_PRESET: %w", err))
	}
	if c.API.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("NANOIMG_MAX_UPLOAD_BYTES must be positive"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("NANOIMG_WORKER_CONCURRENCY must be at least 1"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != RateLimitBackendRedis && c.RateLimit.Backend != RateLimitBackendMemory {
			errs = append(errs, fmt.Errorf("unsupported NANOIMG_RATE_LIMIT_BACKEND %q", c.RateLimit.Backend))
		}
		if c.RateLimit.Capacity < 1 || c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate limit capacity and window must be positive"))
		}
	}
	return errors.Join(errs...)
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func envInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(env(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(env(key, ""), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}
