package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/clients"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/queue"
)

// Dispatcher hands an admitted job to the build service. Delivery is one
// attempt with no confirmation that the build ran.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *pipeline.Request) error
	Mode() string
}

// HTTPDispatcher POSTs the job to kyx-builder
type HTTPDispatcher struct {
	client *clients.BuildServiceClient
}

func NewHTTPDispatcher(client *clients.BuildServiceClient) *HTTPDispatcher {
	return &HTTPDispatcher{client: client}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *pipeline.Request) error {
	return d.client.Trigger(ctx, req)
}

func (d *HTTPDispatcher) Mode() string { return "http" }

// QueueDispatcher publishes the job on a queue topic keyed by job id
type QueueDispatcher struct {
	queue queue.Queue
	topic string
	mode  string
}

func NewQueueDispatcher(q queue.Queue, topic, mode string) *QueueDispatcher {
	return &QueueDispatcher{queue: q, topic: topic, mode: mode}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, req *pipeline.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode build request: %w", err)
	}
	if err := d.queue.Publish(ctx, d.topic, req.JobID.String(), body); err != nil {
		return fmt.Errorf("failed to publish build request %s: %w", req.JobID, err)
	}
	return nil
}

func (d *QueueDispatcher) Mode() string { return d.mode }
