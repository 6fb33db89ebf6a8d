// Package ratelimit implements increment-and-check counters shared by every
// kyx-api replica (Redis) or local to one process (memory).
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64 // 0 when allowed
}

// Counter counts one hit against key and reports whether it fits the limit
type Counter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error)
}

// UserBuildKey is the counter key for build requests by one user
func UserBuildKey(userID string) string {
	return fmt.Sprintf("rate_limit:user:%s:build", userID)
}

// RedisLimiter runs the counter as an atomic Lua script
type RedisLimiter struct {
	redis  *redis.Client
	script *redis.Script
	logger Logger
}

// NewRedisLimiter creates a new rate limiter with embedded Lua script
func NewRedisLimiter(redisClient *redis.Client, logger Logger) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		logger: logger,
	}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*Result, error) {
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}

	result, err := r.script.Run(ctx, r.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		r.logger.Error("rate limit check failed", "key", key, "error", err)
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	// {allowed, current_count, limit, retry_after}
	values, ok := result.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("unexpected script result format")
	}
	nums := make([]int64, 4)
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected script result element %d: %T", i, v)
		}
		nums[i] = n
	}

	res := &Result{
		Allowed:           nums[0] == 1,
		CurrentCount:      nums[1],
		Limit:             nums[2],
		RetryAfterSeconds: nums[3],
	}

	if !res.Allowed {
		r.logger.Warn("rate limit exceeded",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit,
			"retry_after", res.RetryAfterSeconds)
	} else {
		r.logger.Debug("rate limit check passed",
			"key", key,
			"current", res.CurrentCount,
			"limit", limit)
	}

	return res, nil
}

// ResetLimit clears a rate limit counter (for testing/admin)
func (r *RedisLimiter) ResetLimit(ctx context.Context, key string) error {
	return r.redis.Del(ctx, key).Err()
}
