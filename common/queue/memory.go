package queue

import (
	"context"
	"sync"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
)

const memoryTopicBuffer = 1000

// MemoryQueue is an in-process queue for single-binary deployments and tests
type MemoryQueue struct {
	topics map[string]chan *Message
	closed bool
	mu     sync.RWMutex
	log    *logger.Logger
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		topics: make(map[string]chan *Message),
		log:    log,
	}
}

// topic returns the channel for name, creating it on first use. Caller
// holds q.mu.
func (q *MemoryQueue) topic(name string) (chan *Message, error) {
	if q.closed {
		return nil, ErrClosed
	}
	ch, exists := q.topics[name]
	if !exists {
		ch = make(chan *Message, memoryTopicBuffer)
		q.topics[name] = ch
	}
	return ch, nil
}

// Publish enqueues without blocking; a full topic returns ErrQueueFull
func (q *MemoryQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.topic(topic)
	if err != nil {
		return err
	}

	msg := &Message{Topic: topic, Key: key, Value: message}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		q.log.Warn("queue full", "topic", topic)
		return ErrQueueFull
	}
}

// Subscribe subscribes to a topic and processes messages one at a time
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	q.mu.Lock()
	ch, err := q.topic(topic)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	q.log.Info("subscribing to topic", "topic", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				q.log.Info("subscription cancelled", "topic", topic)
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.Key, msg.Value); err != nil {
					q.log.Error("message handler error", "topic", topic, "key", msg.Key, "error", err)
				}
			}
		}
	}()

	return nil
}

// Close closes every topic; subscribers exit once drained
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for topic, ch := range q.topics {
		close(ch)
		q.log.Info("closed topic", "topic", topic)
	}
	return nil
}
