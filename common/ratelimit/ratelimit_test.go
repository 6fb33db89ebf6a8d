package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_Window(t *testing.T) {
	m := NewMemoryLimiter()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := m.Allow(ctx, "u1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(i), res.CurrentCount)
	}

	res, err := m.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(60), res.RetryAfterSeconds)

	// other keys are independent
	res, err = m.Allow(ctx, "u2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	now = now.Add(time.Minute)
	res, err = m.Allow(ctx, "u1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentCount)
}

func TestMemoryLimiter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLimiter().Allow(ctx, "u1", 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUserBuildKey(t *testing.T) {
	assert.Equal(t, "rate_limit:user:alice:build", UserBuildKey("alice"))
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedisLimiter(rdb, logger.Discard())
	ctx := context.Background()
	key := "rate_limit:test:" + uuid.NewString()
	defer l.ResetLimit(ctx, key)

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, key, 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(3), res.CurrentCount)
	assert.Greater(t, res.RetryAfterSeconds, int64(0))
}
