package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	_, client := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	lim := Limit{Max: 5, Window: 15 * time.Minute}

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "booking", "10.0.0.1", lim)
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d is within the quota", i+1)
	}

	ok, err := limiter.Allow(ctx, "booking", "10.0.0.1", lim)
	require.NoError(t, err)
	assert.False(t, ok, "sixth attempt in the window is rejected")

	// Other identifiers and actions are independent counters.
	ok, err = limiter.Allow(ctx, "booking", "10.0.0.2", lim)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "availability", "10.0.0.1", lim)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	mr, client := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	lim := Limit{Max: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "availability", "client", lim)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "availability", "client", lim)
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(61 * time.Second)

	ok, err = limiter.Allow(ctx, "availability", "client", lim)
	require.NoError(t, err)
	assert.True(t, ok, "a fresh window starts after expiry")
}

func TestRateLimiterResetClearsCounter(t *testing.T) {
	_, client := newTestClient(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	lim := Limit{Max: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		_, err := limiter.Allow(ctx, "booking", "client", lim)
		require.NoError(t, err)
	}
	ok, err := limiter.Allow(ctx, "booking", "client", lim)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, limiter.Reset(ctx, "booking", "client"))

	ok, err = limiter.Allow(ctx, "booking", "client", lim)
	require.NoError(t, err)
	assert.True(t, ok, "reset forgives earlier attempts")
}
