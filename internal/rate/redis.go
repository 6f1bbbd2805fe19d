package rate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter enforces per-principal fixed-window request limits using
// shared Redis counters, so multiple engine instances drain one quota.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a [RedisLimiter] backed by the given Redis client.
func NewRedis(redisClient redis.UniversalClient, cfg Config) (*RedisLimiter, error) {
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("rate limiter requires positive MaxRequests")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("rate limiter requires positive Window")
	}
	return &RedisLimiter{
		redis:  redisClient,
		config: cfg,
	}, nil
}

// Allow records one request for key. It returns nil when the request is within
// budget, ErrRateLimited when the window budget is exhausted, and
// ErrBackendUnavailable when Redis cannot be reached.
func (l *RedisLimiter) Allow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, requestKey(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, requestKey(key), l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrRateLimited
	}

	return nil
}

func requestKey(key string) string {
	return "prl:" + key
}
