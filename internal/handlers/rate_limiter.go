package handlers

import (
	"context"
	"sync"
	"time"
)

// AttemptLimiter decides whether key may make another attempt in the current
// window. Implementations shared across instances live in the redis package.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// fixedWindow counts attempts per key in process memory.
type fixedWindow struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	buckets map[string]*attemptBucket
	sweepAt time.Time
}

type attemptBucket struct {
	used    int
	resetAt time.Time
}

// NewMemoryAttemptLimiter returns an in-process limiter, or nil when limit or
// window is not positive.
func NewMemoryAttemptLimiter(limit int, window time.Duration, clock func() time.Time) AttemptLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindow{limit: limit, window: window, clock: clock, buckets: map[string]*attemptBucket{}}
}

func (l *fixedWindow) Allow(_ context.Context, key string) (bool, error) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweepAt) {
		for k, b := range l.buckets {
			if !now.Before(b.resetAt) {
				delete(l.buckets, k)
			}
		}
		l.sweepAt = now.Add(l.window)
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &attemptBucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	if b.used >= l.limit {
		return false, nil
	}
	b.used++
	return true, nil
}
