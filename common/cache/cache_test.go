package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
	assert.Equal(t, 1, c.Stats()["entries"])

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	c := NewMemoryCache(logger.Discard())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client, err := redisclient.Dial(context.Background(), addr, "", 0, logger.Discard())
	require.NoError(t, err)
	defer client.Close()

	c := NewRedisCache(client, "kyx:test:"+uuid.NewString()+":")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
	require.NoError(t, c.Delete(ctx, "k"))
}
