package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flowsync/flowsync/common/logger"
)

const redisKeyPrefix = "flowsync:idem:"

// RedisStore backs the dedup map with Redis so horizontally scaled engine
// instances share one idempotency scope. SETNX carries the TTL; Redis
// handles expiry, so Size is not tracked here.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, log: log}
}

// CheckAndSet sets the key if absent; on a live entry it reads back the
// existing step ID
func (s *RedisStore) CheckAndSet(ctx context.Context, key string, stepID uuid.UUID) (Result, error) {
	rk := redisKeyPrefix + key

	wasSet, err := s.client.SetNX(ctx, rk, stepID.String(), s.ttl).Result()
	if err != nil {
		return Result{}, fmt.Errorf("setnx %s: %w", rk, err)
	}
	if wasSet {
		return Result{}, nil
	}

	val, err := s.client.Get(ctx, rk).Result()
	if err == redis.Nil {
		// Entry expired between SETNX and GET; claim it now
		if err := s.client.Set(ctx, rk, stepID.String(), s.ttl).Err(); err != nil {
			return Result{}, fmt.Errorf("set %s: %w", rk, err)
		}
		return Result{}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("get %s: %w", rk, err)
	}

	existing, err := uuid.Parse(val)
	if err != nil {
		s.log.Warn("idempotency entry holds malformed step id", "key", key, "value", val)
		return Result{Duplicate: true}, nil
	}
	return Result{Duplicate: true, ExistingStepID: existing}, nil
}

// Remove drops the key so a retry can republish
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Size is unavailable for the Redis store; always 0
func (s *RedisStore) Size() int {
	return 0
}

// Close is a no-op; the Redis client is owned by the bootstrap layer
func (s *RedisStore) Close() error {
	return nil
}
