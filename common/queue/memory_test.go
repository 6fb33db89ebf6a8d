package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_PublishSubscribe(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 3)
	require.NoError(t, q.Subscribe(ctx, "builds", func(ctx context.Context, key string, value []byte) error {
		got <- key + "=" + string(value)
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, "builds", fmt.Sprintf("k%d", i), []byte(fmt.Sprintf("v%d", i))))
	}

	for i := 0; i < 3; i++ {
		select {
		case msg := <-got:
			assert.Equal(t, fmt.Sprintf("k%d=v%d", i, i), msg)
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	}
}

func TestMemoryQueue_HandlerErrorDoesNotStopConsumer(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan string, 2)
	require.NoError(t, q.Subscribe(ctx, "builds", func(ctx context.Context, key string, value []byte) error {
		seen <- key
		return fmt.Errorf("boom")
	}))

	require.NoError(t, q.Publish(ctx, "builds", "a", nil))
	require.NoError(t, q.Publish(ctx, "builds", "b", nil))

	for _, want := range []string{"a", "b"} {
		select {
		case key := <-seen:
			assert.Equal(t, want, key)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer stopped after handler error")
		}
	}
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < memoryTopicBuffer; i++ {
		require.NoError(t, q.Publish(ctx, "builds", "k", nil))
	}
	assert.ErrorIs(t, q.Publish(ctx, "builds", "k", nil), ErrQueueFull)
}

func TestMemoryQueue_Closed(t *testing.T) {
	q := NewMemoryQueue(logger.Discard())
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, "builds", "k", nil))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Publish(ctx, "builds", "k", nil), ErrClosed)
	assert.ErrorIs(t, q.Subscribe(ctx, "builds", func(context.Context, string, []byte) error { return nil }), ErrClosed)
}
