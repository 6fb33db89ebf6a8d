// Package events broadcasts build status changes so clients can follow a
// build without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
)

// Type names a point in the build lifecycle
type Type string

const (
	TypeQueued         Type = "build.queued"
	TypeStarted        Type = "build.started"
	TypeCompleted      Type = "build.completed"
	TypeFailed         Type = "build.failed"
	TypeReset          Type = "build.reset"
	TypeDispatchFailed Type = "build.dispatch_failed"
)

// BuildEvent is the payload published for every status change
type BuildEvent struct {
	Type      Type      `json:"type"`
	GameID    string    `json:"game_id"`
	JobID     string    `json:"job_id,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	BundleURL string    `json:"bundle_url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelPrefix is shared by every per-game channel
const ChannelPrefix = "kyx:build:events:"

// Channel returns the pub/sub channel for one game
func Channel(gameID string) string {
	return ChannelPrefix + gameID
}

// Publisher delivers build events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev BuildEvent) error
}

// Nop discards events
type Nop struct{}

func (Nop) Publish(context.Context, BuildEvent) error { return nil }

// RedisPublisher publishes JSON events on per-game Redis channels
type RedisPublisher struct {
	client *redisclient.Client
}

func NewRedisPublisher(client *redisclient.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev BuildEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode build event: %w", err)
	}
	return p.client.PublishEvent(ctx, Channel(ev.GameID), string(body))
}

// Recorder keeps events in memory; used in tests and single-process runs
type Recorder struct {
	mu     sync.Mutex
	events []BuildEvent
}

func (r *Recorder) Publish(_ context.Context, ev BuildEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far
func (r *Recorder) Events() []BuildEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BuildEvent(nil), r.events...)
}

// Types lists the recorded event types in order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}
