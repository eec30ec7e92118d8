// Package ratelimiter provides an optional Redis-backed token bucket used to
// throttle remote submit calls per platform. When Redis is not configured the
// limiter is nil and every call is allowed.
package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether one more remote call may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigFromPerMinute converts a per-minute budget to a bucket.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLimiter implements a token bucket atomically in Redis via Lua, so
// multiple generator goroutines (or processes) share one budget.
type RedisLimiter struct {
	rdb    *redis.Client
	bucket BucketConfig
	script *redis.Script
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

if tokens >= 1 then
  tokens = tokens - 1
  redis.call("HSET", key, "tokens", tokens, "last_refill", now)
  redis.call("EXPIRE", key, 3600)
  return {1, 0}
end

redis.call("HSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, 3600)
local wait = (1 - tokens) / refill_rate
return {0, math.ceil(wait * 1000)}
`

// NewRedisLimiter builds a limiter; nil rdb or an empty bucket yields nil.
func NewRedisLimiter(rdb *redis.Client, bucket BucketConfig) *RedisLimiter {
	if rdb == nil || bucket.Capacity <= 0 || bucket.RefillRate <= 0 {
		return nil
	}
	return &RedisLimiter{
		rdb:    rdb,
		bucket: bucket,
		script: redis.NewScript(luaTokenBucketScript),
	}
}

// Allow consumes one token for key. A nil limiter always allows.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil {
		return true, 0, nil
	}
	now := float64(time.Now().UnixMilli()) / 1000.0
	res, err := l.script.Run(ctx, l.rdb, []string{"ratelimit:" + key},
		l.bucket.Capacity, l.bucket.RefillRate, now).Result()
	if err != nil {
		return false, 0, fmt.Errorf("op=ratelimiter.allow: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("op=ratelimiter.allow: unexpected script result %v", res)
	}
	allowed, _ := vals[0].(int64)
	waitMS, _ := vals[1].(int64)
	return allowed == 1, time.Duration(waitMS) * time.Millisecond, nil
}
