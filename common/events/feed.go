package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
)

// Subscription delivers the events of one game until closed
type Subscription interface {
	Events() <-chan BuildEvent
	Close() error
}

// Subscriber opens per-game subscriptions
type Subscriber interface {
	Subscribe(ctx context.Context, gameID string) (Subscription, error)
}

// subscriberBuffer bounds how far a slow reader may fall behind
const subscriberBuffer = 64

// Hub is an in-process publisher and subscriber. Events for a game reach every
// open subscription for that game; a subscriber whose buffer is full misses
// the event instead of blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*hubSubscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscription]struct{})}
}

func (h *Hub) Publish(_ context.Context, ev BuildEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.GameID] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, gameID string) (Subscription, error) {
	sub := &hubSubscription{hub: h, gameID: gameID, ch: make(chan BuildEvent, subscriberBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[*hubSubscription]struct{})
	}
	h.subs[gameID][sub] = struct{}{}
	return sub, nil
}

// Count returns the number of open subscriptions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.gameID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sub.gameID)
	}
}

type hubSubscription struct {
	hub    *Hub
	gameID string
	ch     chan BuildEvent
}

func (s *hubSubscription) Events() <-chan BuildEvent { return s.ch }

func (s *hubSubscription) Close() error {
	s.hub.remove(s)
	return nil
}

// RedisSubscriber follows the per-game channels written by RedisPublisher
type RedisSubscriber struct {
	client *redisclient.Client
	log    redisclient.Logger
}

func NewRedisSubscriber(client *redisclient.Client, log redisclient.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, log: log}
}

func (s *RedisSubscriber) Subscribe(ctx context.Context, gameID string) (Subscription, error) {
	pubsub, err := s.client.Subscribe(ctx, Channel(gameID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to build events: %w", err)
	}

	sub := &redisSubscription{
		close: pubsub.Close,
		ch:    make(chan BuildEvent, subscriberBuffer),
	}
	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			var ev BuildEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.log.Warn("dropping malformed build event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}()
	return sub, nil
}

type redisSubscription struct {
	once  sync.Once
	close func() error
	ch    chan BuildEvent
}

func (s *redisSubscription) Events() <-chan BuildEvent { return s.ch }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.close() })
	return err
}
