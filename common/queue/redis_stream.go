package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
	"github.com/google/uuid"
)

// RedisStreamQueue maps topics onto Redis streams read through a consumer
// group, so each message reaches exactly one builder replica
type RedisStreamQueue struct {
	client   *redisclient.Client
	group    string
	consumer string
	block    time.Duration
	log      *logger.Logger
}

func NewRedisStreamQueue(client *redisclient.Client, group string, log *logger.Logger) *RedisStreamQueue {
	host, _ := os.Hostname()
	return &RedisStreamQueue{
		client:   client,
		group:    group,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		block:    5 * time.Second,
		log:      log,
	}
}

func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	_, err := q.client.AddToStream(ctx, topic, map[string]interface{}{
		"key":   key,
		"value": string(message),
	})
	return err
}

func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if err := q.client.CreateStreamGroup(ctx, topic, q.group); err != nil {
		return err
	}

	q.log.Info("subscribing to stream", "stream", topic, "group", q.group, "consumer", q.consumer)

	go func() {
		for {
			if ctx.Err() != nil {
				q.log.Info("stream subscription cancelled", "stream", topic)
				return
			}

			streams, err := q.client.ReadFromStreamGroup(ctx, q.group, q.consumer, topic, 1, q.block)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.log.Error("stream read failed", "stream", topic, "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					key, _ := msg.Values["key"].(string)
					value, _ := msg.Values["value"].(string)
					if err := handler(ctx, key, []byte(value)); err != nil {
						q.log.Error("message handler error", "stream", topic, "key", key, "error", err)
					}
					if err := q.client.AckStreamMessage(context.WithoutCancel(ctx), topic, q.group, msg.ID); err != nil {
						q.log.Error("stream ack failed", "stream", topic, "id", msg.ID, "error", err)
					}
				}
			}
		}
	}()
	return nil
}

// Close is a no-op; the Redis client is owned by bootstrap
func (q *RedisStreamQueue) Close() error { return nil }
