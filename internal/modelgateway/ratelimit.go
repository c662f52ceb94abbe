package modelgateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NoopLimiter never throttles. Used when no rate limit is configured.
type NoopLimiter struct{}

func (NoopLimiter) Allow(_ context.Context, _ string) (bool, time.Duration, error) {
	return true, 0, nil
}

// tokenBucketScript atomically refills and drains a token bucket stored as
// two fields on a Redis hash: tokens (float) and last_refill (unix seconds,
// float). One bucket per rate-limit key (typically "provider:model").
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(bucket[1])
local last_refill = tonumber(bucket[2])
if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end
tokens = math.min(capacity, tokens + elapsed * refill_per_sec)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, 3600)

return {allowed, tokens}
`

// RedisLimiter is a distributed token-bucket rate limiter, one bucket per
// key, shared across every process calling the Model Gateway against the
// same Redis instance. This is the production limiter: provider rate limits
// are account-wide, not per-process, so the bucket must live outside any
// single pipeline worker.
type RedisLimiter struct {
	client       redis.UniversalClient
	script       *redis.Script
	capacity     float64
	refillPerSec float64
}

// NewRedisLimiter builds a limiter allowing `capacity` burst requests,
// refilling at `ratePerSecond` tokens/sec.
func NewRedisLimiter(client redis.UniversalClient, capacity float64, ratePerSecond float64) *RedisLimiter {
	return &RedisLimiter{
		client:       client,
		script:       redis.NewScript(tokenBucketScript),
		capacity:     capacity,
		refillPerSec: ratePerSecond,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	res, err := r.script.Run(ctx, r.client, []string{"modelgateway:bucket:" + key},
		r.capacity, r.refillPerSec, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected result %v", res)
	}
	allowed, _ := vals[0].(int64)
	if allowed == 1 {
		return true, 0, nil
	}
	retryAfter := time.Duration(1/r.refillPerSec*1000) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = 100 * time.Millisecond
	}
	return false, retryAfter, nil
}

// MemoryLimiter is an in-process token bucket, used in tests and in
// single-process deployments without Redis.
type MemoryLimiter struct {
	mu           sync.Mutex
	capacity     float64
	refillPerSec float64
	tokens       map[string]float64
	lastRefill   map[string]time.Time
}

func NewMemoryLimiter(capacity, ratePerSecond float64) *MemoryLimiter {
	return &MemoryLimiter{
		capacity:     capacity,
		refillPerSec: ratePerSecond,
		tokens:       make(map[string]float64),
		lastRefill:   make(map[string]time.Time),
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	tokens, ok := m.tokens[key]
	if !ok {
		tokens = m.capacity
		m.lastRefill[key] = now
	}
	elapsed := now.Sub(m.lastRefill[key]).Seconds()
	tokens = minFloat(m.capacity, tokens+elapsed*m.refillPerSec)
	m.lastRefill[key] = now

	if tokens >= 1 {
		m.tokens[key] = tokens - 1
		return true, 0, nil
	}
	m.tokens[key] = tokens
	retryAfter := time.Duration(1/m.refillPerSec*1000) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = 100 * time.Millisecond
	}
	return false, retryAfter, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
