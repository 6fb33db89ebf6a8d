package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Debug(string, ...interface{}) {}

func TestChannel(t *testing.T) {
	assert.Equal(t, "kyx:build:events:abc", Channel("abc"))
}

func TestBuildEvent_JSON(t *testing.T) {
	ev := BuildEvent{Type: TypeFailed, GameID: "g1", JobID: "j1", Status: "failed", Error: "boom"}
	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "build.failed", m["type"])
	assert.Equal(t, "boom", m["error"])
	assert.NotContains(t, m, "bundle_url")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), BuildEvent{Type: TypeQueued}))
	require.NoError(t, r.Publish(context.Background(), BuildEvent{Type: TypeStarted}))
	assert.Equal(t, []Type{TypeQueued, TypeStarted}, r.Types())
	assert.Len(t, r.Events(), 2)
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Redis not available. Set TEST_REDIS_ADDR to run")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available")
	}

	sub := rdb.Subscribe(ctx, Channel("game-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisher(redisclient.NewClient(rdb, testLogger{}))
	require.NoError(t, pub.Publish(ctx, BuildEvent{Type: TypeCompleted, GameID: "game-1", Status: "completed"}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got BuildEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, TypeCompleted, got.Type)
	assert.False(t, got.Timestamp.IsZero())
}
