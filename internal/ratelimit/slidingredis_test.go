package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T) (Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return Limiter{Client: client, Prefix: "ratelimit:"}, mr
}

func TestLimiterSlidingWindow(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()
	window := 2 * time.Second
	max := 2

	for i := 0; i < max; i++ {
		allowed, remaining, _, err := limiter.Allow(ctx, "user-1", window, max)
		require.NoError(t, err)
		require.True(t, allowed, "write %d should be allowed", i)
		require.Equal(t, max-(i+1), remaining)
	}

	allowed, remaining, _, err := limiter.Allow(ctx, "user-1", window, max)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 0, remaining)

	mr.FastForward(window)

	allowed, _, _, err = limiter.Allow(ctx, "user-1", window, max)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()
	window := time.Second

	allowed, _, _, err := limiter.Allow(ctx, "user-1", window, 1)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, _, err = limiter.Allow(ctx, "user-1", window, 1)
	require.NoError(t, err)
	require.False(t, allowed)

	// A guest identity never shares the spent window.
	allowed, _, _, err = limiter.Allow(ctx, "guest-7f3a", window, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestLimiterDisabledConfigurations(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	allowed, _, _, err := limiter.Allow(ctx, "user-1", time.Second, 0)
	require.NoError(t, err)
	require.True(t, allowed, "max 0 disables limiting")

	allowed, _, _, err = Limiter{}.Allow(ctx, "user-1", time.Second, 5)
	require.NoError(t, err)
	require.True(t, allowed, "nil client disables limiting")
}
