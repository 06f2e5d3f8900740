// Package ratelimit provides Redis-backed fixed-window rate limiting
// for the HTTP surface. Counters are advanced atomically by a Lua
// script so concurrent engine replicas share one window.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flowsync/flowsync/common/logger"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Result is the outcome of a limit check
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter checks request counters against per-scope limits
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	log    *logger.Logger
}

// New creates a limiter with the embedded Lua script
func New(redisClient *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{
		redis:  redisClient,
		script: redis.NewScript(rateLimitScript),
		log:    log,
	}
}

// CheckGlobal checks the service-wide limit over a one-minute window
func (l *Limiter) CheckGlobal(ctx context.Context, limit int64) (*Result, error) {
	return l.check(ctx, "rate_limit:global", limit, 60)
}

// CheckUser checks the per-user limit over a one-minute window
func (l *Limiter) CheckUser(ctx context.Context, userID string, limit int64) (*Result, error) {
	return l.check(ctx, fmt.Sprintf("rate_limit:user:%s", userID), limit, 60)
}

// CheckTrigger checks the per-webhook-trigger limit over a one-minute
// window, so one noisy integration cannot starve the rest
func (l *Limiter) CheckTrigger(ctx context.Context, triggerID string, limit int64) (*Result, error) {
	return l.check(ctx, fmt.Sprintf("rate_limit:trigger:%s", triggerID), limit, 60)
}

// CheckTier checks a user's executions against their workflow-tier
// allowance. Each tier holds its own counter, so light workflows are
// not blocked by heavy ones.
func (l *Limiter) CheckTier(ctx context.Context, userID string, tier Tier) (*Result, error) {
	key := fmt.Sprintf("rate_limit:user:%s:tier:%s", userID, tier)
	return l.check(ctx, key, LimitForTier(tier), 60)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	// Script returns {allowed, current_count, limit, retry_after}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 4 {
		return nil, fmt.Errorf("unexpected rate limit script result: %v", raw)
	}

	result := &Result{
		Allowed:           vals[0].(int64) == 1,
		CurrentCount:      vals[1].(int64),
		Limit:             vals[2].(int64),
		RetryAfterSeconds: vals[3].(int64),
	}

	if !result.Allowed {
		l.log.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", limit,
			"retry_after", result.RetryAfterSeconds)
	}
	return result, nil
}

// CurrentCount reads a counter without incrementing it
func (l *Limiter) CurrentCount(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

// Reset clears a counter
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}
