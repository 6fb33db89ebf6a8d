package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaQueue publishes with one shared writer and consumes each topic
// through a consumer group
type KafkaQueue struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	log     *logger.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaQueue(brokers []string, groupID string, log *logger.Logger) *KafkaQueue {
	return &KafkaQueue{
		brokers: brokers,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireOne,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		log: log,
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	return q.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: message,
	})
}

func (q *KafkaQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.brokers,
		GroupID:  q.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	q.mu.Lock()
	q.readers = append(q.readers, r)
	q.mu.Unlock()

	q.log.Info("subscribing to topic", "topic", topic, "group", q.groupID)

	go func() {
		for {
			msg, err := r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					q.log.Info("kafka subscription stopped", "topic", topic)
					return
				}
				q.log.Error("kafka fetch failed", "topic", topic, "error", err)
				continue
			}

			if err := handler(ctx, string(msg.Key), msg.Value); err != nil {
				q.log.Error("message handler error", "topic", topic, "key", string(msg.Key), "error", err)
			}
			if err := r.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
				q.log.Error("kafka commit failed", "topic", topic, "offset", msg.Offset, "error", err)
			}
		}
	}()
	return nil
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	errs := []error{q.writer.Close()}
	for _, r := range q.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
