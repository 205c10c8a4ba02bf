package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisbroker "github.com/ramiqadoumi/agentq/internal/redis"
)

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	b, _ := newTestBroker(t)
	limiter := redisbroker.NewRateLimiter(b.Client(), 5, time.Minute)
	ctx := context.Background()

	for i := range 5 {
		ok, err := limiter.Allow(ctx, "data")
		require.NoError(t, err)
		assert.True(t, ok, "dispatch %d should be allowed", i+1)
	}
	assert.Equal(t, 5, limiter.Limit())
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	b, _ := newTestBroker(t)
	limiter := redisbroker.NewRateLimiter(b.Client(), 2, time.Minute)
	ctx := context.Background()

	for range 2 {
		ok, err := limiter.Allow(ctx, "data")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "data")
	require.NoError(t, err)
	assert.False(t, ok, "3rd dispatch should be rate-limited")
}

func TestRateLimiter_IndependentAgentTypes(t *testing.T) {
	b, _ := newTestBroker(t)
	limiter := redisbroker.NewRateLimiter(b.Client(), 1, time.Minute)
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "data")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "data")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "frontend")
	require.NoError(t, err)
	assert.True(t, ok, "frontend has its own window")
}
