package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svcgate/svcgate/internal/ratelimit/store"
)

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	l := NewFixedWindowLimiter(store.NewMemoryStore(), 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(store.NewMemoryStore(), 1, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = l.Allow(ctx, "client-b")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_WindowExpiry(t *testing.T) {
	l := NewFixedWindowLimiter(store.NewMemoryStore(), 1, 50*time.Millisecond, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(60 * time.Millisecond)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_AllowN(t *testing.T) {
	l := NewFixedWindowLimiter(store.NewMemoryStore(), 5, time.Minute, nil)
	ctx := context.Background()

	res, err := l.AllowN(ctx, "client-a", 5)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.AllowN(ctx, "client-a", 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestFixedWindow_Reset(t *testing.T) {
	l := NewFixedWindowLimiter(store.NewMemoryStore(), 1, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "client-a"))

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindow_RedisBacked(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := store.DefaultRedisConfig()
	cfg.Address = mr.Addr()
	s, err := store.NewRedisStore(cfg)
	require.NoError(t, err)
	defer s.Close()

	l := NewFixedWindowLimiter(s, 2, time.Minute, nil)
	ctx := context.Background()

	res, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = l.Allow(ctx, "client-a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestNoopLimiter_AlwaysAllows(t *testing.T) {
	l := NewNoopLimiter()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		res, err := l.Allow(ctx, "anyone")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	assert.NoError(t, l.Reset(ctx, "anyone"))
}
