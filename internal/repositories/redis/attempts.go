package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const attemptPrefix = "attempts:"

// AttemptLimiter counts attempts per key in fixed windows shared by every
// instance. The first attempt of a window sets the key expiry.
type AttemptLimiter struct {
	client goredis.UniversalClient
	limit  int64
	window time.Duration
}

// NewAttemptLimiter allows limit attempts per key in each window.
func NewAttemptLimiter(client goredis.UniversalClient, limit int, window time.Duration) *AttemptLimiter {
	return &AttemptLimiter{client: client, limit: int64(limit), window: window}
}

// Allow reports whether key is still under its limit and records the attempt.
func (l *AttemptLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := attemptPrefix + key
	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("attempt limiter: %w", err)
	}
	return incr.Val() <= l.limit, nil
}
