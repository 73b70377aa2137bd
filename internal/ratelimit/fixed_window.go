package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/svcgate/svcgate/internal/observability"
	"github.com/svcgate/svcgate/internal/ratelimit/store"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
// Time is divided into fixed windows of the configured size and requests are
// counted per key within each window.
type FixedWindowLimiter struct {
	store  store.Store
	limit  int
	window time.Duration
	logger observability.Logger
}

// NewFixedWindowLimiter creates a fixed window limiter on top of the given
// store. Use store.NewMemoryStore for single-instance deployments and
// store.NewRedisStore to share counters across gateway replicas.
func NewFixedWindowLimiter(s store.Store, limit int, window time.Duration, logger observability.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &FixedWindowLimiter{
		store:  s,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(ctx context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)
	windowKey := l.windowKey(key, windowStart)

	current, err := l.store.Get(ctx, windowKey)
	if err != nil && !store.IsKeyNotFound(err) {
		return nil, err
	}

	allowed := int(current)+n <= l.limit
	if allowed {
		// Extra second of expiry absorbs clock skew between replicas.
		newCount, err := l.store.IncrementWithExpiry(ctx, windowKey, int64(n), l.window+time.Second)
		if err != nil {
			return nil, err
		}
		current = newCount
	}

	remaining := l.limit - int(current)
	if remaining < 0 {
		remaining = 0
	}

	resetAfter := windowStart.Add(l.window).Sub(now)
	if resetAfter < 0 {
		resetAfter = 0
	}

	var retryAfter time.Duration
	if !allowed {
		retryAfter = resetAfter
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
		RetryAfter: retryAfter,
	}, nil
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowKey := l.windowKey(key, l.windowStart(time.Now()))
	if err := l.store.Delete(ctx, windowKey); err != nil {
		l.logger.Warn("failed to reset rate limit counter",
			observability.String("key", key),
			observability.Error(err),
		)
		return err
	}
	return nil
}

// windowStart returns the start time of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

func (l *FixedWindowLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s:fw:%d", key, windowStart.UnixNano())
}
