// Package worker bounds how many build pipelines run at once in one process
// and feeds them from HTTP triggers or a dispatch queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/queue"
)

// ErrBusy is returned by TrySubmit when every slot is taken
var ErrBusy = errors.New("all build slots are busy")

// Runner executes one build job
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Pool runs builds on at most size goroutines. Builds run on a context owned
// by the pool, so they outlive the request or message that started them.
type Pool struct {
	runner Runner
	sem    chan struct{}
	log    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(runner Runner, size int, log *logger.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner: runner,
		sem:    make(chan struct{}, size),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// TrySubmit starts req in the background, or returns ErrBusy without
// waiting when the pool is full
func (p *Pool) TrySubmit(req pipeline.Request) error {
	select {
	case p.sem <- struct{}{}:
	default:
		return ErrBusy
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		p.run(p.ctx, req)
	}()
	return nil
}

// Run waits for a free slot, then runs req to completion
func (p *Pool) Run(ctx context.Context, req pipeline.Request) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	defer p.wg.Done()
	defer func() { <-p.sem }()

	return p.run(p.ctx, req)
}

func (p *Pool) run(ctx context.Context, req pipeline.Request) error {
	log := p.log.WithJobID(req.JobID.String()).WithGameID(req.GameID.String())

	res, err := p.runner.Run(ctx, req)
	if err != nil {
		log.Warn("build request rejected", "error", err)
		return err
	}
	log.Debug("build finished", "status", res.Status, "duration_ms", res.Duration.Milliseconds())
	return nil
}

// Handler decodes queue messages into build requests and runs them
func (p *Pool) Handler() queue.MessageHandler {
	return func(ctx context.Context, key string, value []byte) error {
		var req pipeline.Request
		if err := json.Unmarshal(value, &req); err != nil {
			return fmt.Errorf("failed to decode build request %q: %w", key, err)
		}
		if err := req.Validate(); err != nil {
			return fmt.Errorf("invalid build request %q: %w", key, err)
		}
		return p.Run(ctx, req)
	}
}

// Consume subscribes the pool to topic on q
func (p *Pool) Consume(ctx context.Context, q queue.Queue, topic string) error {
	p.log.Info("consuming build requests", "topic", topic, "slots", cap(p.sem))
	return q.Subscribe(ctx, topic, p.Handler())
}

// InFlight reports how many builds are running
func (p *Pool) InFlight() int {
	return len(p.sem)
}

// Shutdown waits for running builds until ctx expires, then cancels them.
// A canceled build still records a failed status.
func (p *Pool) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.log.Warn("canceling running builds", "in_flight", p.InFlight())
		p.cancel()
		<-done
		return ctx.Err()
	}
}
