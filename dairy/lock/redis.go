package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// REDIS - Cross-process keyed lock
// =============================================================================

const (
	DefaultTTL     = 30 * time.Second
	DefaultBackoff = 50 * time.Millisecond
)

// Redis serializes a key across every process sharing the Redis instance.
// Obtain is retried with linear backoff until ctx ends. Unlike Local,
// waiters are not granted in arrival order.
type Redis struct {
	client  *redislock.Client
	prefix  string
	TTL     time.Duration
	Backoff time.Duration
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{
		client:  redislock.New(rdb),
		prefix:  prefix,
		TTL:     DefaultTTL,
		Backoff: DefaultBackoff,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	lk, err := r.client.Obtain(ctx, r.prefix+key, r.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.Backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		cause := ctx.Err()
		if cause == nil {
			cause = context.DeadlineExceeded
		}
		return nil, fmt.Errorf("lock %s: %w", key, cause)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return func() {
		// An unreleased lock expires after TTL.
		_ = lk.Release(context.Background())
	}, nil
}
