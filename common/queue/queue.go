// Package queue carries build requests from kyx-api to kyx-builder when
// dispatch is not a direct HTTP call.
package queue

import (
	"context"
	"errors"
)

// ErrQueueFull is returned when an in-memory topic cannot take more messages
var ErrQueueFull = errors.New("queue full")

// ErrClosed is returned after Close
var ErrClosed = errors.New("queue closed")

// Queue interface for message passing
type Queue interface {
	Publish(ctx context.Context, topic string, key string, message []byte) error
	// Subscribe starts consuming in the background and returns immediately
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Close() error
}

// MessageHandler processes messages
type MessageHandler func(ctx context.Context, key string, value []byte) error

// Message represents a queue message
type Message struct {
	Topic string
	Key   string
	Value []byte
}
