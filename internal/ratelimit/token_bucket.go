package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultKeyPrefix = "nanoimg:ratelimit"
	anonymousSubject = "anonymous"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter charges cost tokens to subject's bucket.
type Limiter interface {
	Allow(ctx context.Context, subject string, cost int) (Decision, error)
}

type bucketParams struct {
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
}

func newBucketParams(capacity int, window time.Duration) (bucketParams, error) {
	if capacity <= 0 {
		return bucketParams{}, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return bucketParams{}, errors.New("window must be positive")
	}
	windowMS := max(window.Milliseconds(), 1)
	return bucketParams{
		capacity:    int64(capacity),
		refillPerMS: float64(capacity) / float64(windowMS),
		ttl:         2 * window,
	}, nil
}

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return anonymousSubject
	}
	return subject
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "updated_ms")
local tokens = tonumber(state[1]) or capacity
local updated_ms = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - updated_ms) * refill_per_ms)

local allowed = 0
local wait_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait_ms = math.ceil((cost - tokens) / refill_per_ms)
end

redis.call("HSET", key, "tokens", tokens, "updated_ms", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, math.floor(tokens), wait_ms}
`)

// RedisTokenBucket shares bucket state across API replicas.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	params    bucketParams
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	params, err := newBucketParams(capacity, window)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisTokenBucket{
		client:    client,
		params:    params,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}, nil
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + normalizeSubject(subject)
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string, cost int) (Decision, error) {
	raw, err := tokenBucketScript.Run(
		ctx,
		l.client,
		[]string{l.key(subject)},
		l.params.capacity,
		l.params.refillPerMS,
		l.now().UTC().UnixMilli(),
		max(cost, 1),
		l.params.ttl.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return parseScriptReply(raw)
}

func parseScriptReply(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid token bucket reply %v", raw)
	}

	var parsed [3]int64
	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return Decision{}, fmt.Errorf("parse token bucket reply[%d]: %w", i, err)
		}
		parsed[i] = n
	}

	return Decision{
		Allowed:    parsed[0] == 1,
		Remaining:  parsed[1],
		RetryAfter: time.Duration(parsed[2]) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}

// MemoryTokenBucket is a single-process limiter for runs without Redis.
type MemoryTokenBucket struct {
	params bucketParams
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	tokens  float64
	updated time.Time
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	params, err := newBucketParams(capacity, window)
	if err != nil {
		return nil, err
	}
	return &MemoryTokenBucket{
		params:  params,
		now:     time.Now,
		buckets: make(map[string]*memoryBucket),
	}, nil
}

func (l *MemoryTokenBucket) Allow(ctx context.Context, subject string, cost int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	subject = normalizeSubject(subject)
	now := l.now()
	want := float64(max(cost, 1))
	capacity := float64(l.params.capacity)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[subject]
	if !ok || now.Sub(b.updated) > l.params.ttl {
		b = &memoryBucket{tokens: capacity, updated: now}
		l.buckets[subject] = b
	}

	elapsedMS := float64(max(now.Sub(b.updated).Milliseconds(), 0))
	b.tokens = math.Min(capacity, b.tokens+elapsedMS*l.params.refillPerMS)
	b.updated = now

	if b.tokens >= want {
		b.tokens -= want
		return Decision{Allowed: true, Remaining: int64(b.tokens)}, nil
	}

	waitMS := math.Ceil((want - b.tokens) / l.params.refillPerMS)
	return Decision{
		Remaining:  int64(b.tokens),
		RetryAfter: time.Duration(waitMS) * time.Millisecond,
	}, nil
}
