package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/metrics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/policy"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/ratelimit"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ErrDispatchUnavailable means no build transport is configured
var ErrDispatchUnavailable = errors.New("build dispatch is not configured")

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Limit             int64
	CurrentCount      int64
	RetryAfterSeconds int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d builds per window, retry after %d seconds",
		e.Limit, e.RetryAfterSeconds)
}

// BuildService admits, dispatches, inspects and resets builds
type BuildService struct {
	repos      *repository.Repositories
	dispatcher Dispatcher
	counter    ratelimit.Counter
	gate       *policy.Gate
	events     events.Publisher
	metrics    *metrics.BuildMetrics
	log        *logger.Logger

	rateLimit       int64
	rateWindow      time.Duration
	dispatchTimeout time.Duration
	now             func() time.Time

	dispatches sync.WaitGroup
}

// BuildServiceOpts contains options for creating a BuildService
type BuildServiceOpts struct {
	Repos      *repository.Repositories
	Dispatcher Dispatcher
	Counter    ratelimit.Counter
	Gate       *policy.Gate
	Events     events.Publisher
	Metrics    *metrics.BuildMetrics
	Logger     *logger.Logger

	// RateLimit of 0 disables the per-user limit
	RateLimit       int64
	RateWindow      time.Duration
	DispatchTimeout time.Duration
	Now             func() time.Time
}

// NewBuildService creates a new build service with options pattern
func NewBuildService(opts *BuildServiceOpts) *BuildService {
	s := &BuildService{
		repos:           opts.Repos,
		dispatcher:      opts.Dispatcher,
		counter:         opts.Counter,
		gate:            opts.Gate,
		events:          opts.Events,
		metrics:         opts.Metrics,
		log:             opts.Logger,
		rateLimit:       opts.RateLimit,
		rateWindow:      opts.RateWindow,
		dispatchTimeout: opts.DispatchTimeout,
		now:             opts.Now,
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.dispatchTimeout <= 0 {
		s.dispatchTimeout = 10 * time.Second
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// EnqueueResponse is returned with 202 Accepted
type EnqueueResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	GameID uuid.UUID `json:"game_id"`
	Status string    `json:"status"`
}

// StatusResponse pairs the latest job with the game it builds
type StatusResponse struct {
	Job        *models.BuildJob  `json:"job"`
	GameStatus models.GameStatus `json:"game_status"`
	BundleURL  *string           `json:"bundle_url,omitempty"`
}

// Enqueue admits one build for a draft game owned by userID and hands it to
// the build service without waiting for delivery
func (s *BuildService) Enqueue(ctx context.Context, gameID uuid.UUID, userID string) (*EnqueueResponse, error) {
	log := s.log.WithGameID(gameID.String())

	if s.dispatcher == nil {
		return nil, ErrDispatchUnavailable
	}

	// 1. Ownership; a foreign game looks exactly like a missing one
	game, err := s.repos.Games.GetForOwner(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}

	// 2. Single flight
	active, err := s.repos.Jobs.GetActiveForGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active build: %w", err)
	}
	if active != nil {
		s.metrics.RecordRejected("in_progress")
		log.Info("build rejected, already in progress", "active_job_id", active.ID)
		return nil, models.ErrBuildInProgress
	}
	if game.Status != models.GameStatusDraft {
		s.metrics.RecordRejected("not_buildable")
		return nil, models.ErrGameNotBuildable
	}

	// 3. Gates
	if err := s.checkRateLimit(ctx, userID); err != nil {
		s.metrics.RecordRejected("rate_limited")
		return nil, err
	}
	if err := s.gate.Check(game, userID); err != nil {
		if errors.Is(err, policy.ErrDenied) {
			s.metrics.RecordRejected("policy")
		}
		return nil, err
	}

	// 4. Insert the job; the unique active-job index closes the race above
	job := &models.BuildJob{
		ID:        uuid.New(),
		GameID:    game.ID,
		OwnerID:   userID,
		Status:    models.JobStatusPending,
		CreatedAt: s.now(),
	}
	if err := s.repos.Jobs.Create(ctx, job); err != nil {
		if errors.Is(err, models.ErrBuildInProgress) {
			s.metrics.RecordRejected("in_progress")
		}
		return nil, err
	}

	if err := s.repos.Games.MarkBuilding(ctx, game.ID); err != nil {
		// release the slot we just took so the game is not wedged
		if ferr := s.repos.Jobs.Fail(context.WithoutCancel(ctx), job.ID, "admission aborted: "+err.Error(), s.now()); ferr != nil {
			log.Error("failed to release build slot", "job_id", job.ID, "error", ferr)
		}
		if errors.Is(err, models.ErrGameNotBuildable) {
			s.metrics.RecordRejected("not_buildable")
		}
		return nil, err
	}

	s.metrics.RecordEnqueued()
	log.Info("build enqueued", "job_id", job.ID, "owner_id", userID, "dispatch", s.dispatcher.Mode())
	s.publish(ctx, events.BuildEvent{
		Type:   events.TypeQueued,
		GameID: game.ID.String(),
		JobID:  job.ID.String(),
		Status: string(models.JobStatusPending),
	})

	// 5. Fire and forget
	s.dispatch(ctx, &pipeline.Request{
		JobID:  job.ID,
		GameID: game.ID,
		Config: game.Config,
		Source: game.Source,
	})

	return &EnqueueResponse{JobID: job.ID, GameID: game.ID, Status: "accepted"}, nil
}

func (s *BuildService) checkRateLimit(ctx context.Context, userID string) error {
	if s.counter == nil || s.rateLimit <= 0 {
		return nil
	}

	result, err := s.counter.Allow(ctx, ratelimit.UserBuildKey(userID), s.rateLimit, s.rateWindow)
	if err != nil {
		// fail open
		s.log.Error("rate limit check failed", "user_id", userID, "error", err)
		return nil
	}
	if !result.Allowed {
		s.log.Warn("build rate limit exceeded",
			"user_id", userID,
			"limit", result.Limit,
			"current", result.CurrentCount,
			"retry_after", result.RetryAfterSeconds)
		return &RateLimitError{
			Limit:             result.Limit,
			CurrentCount:      result.CurrentCount,
			RetryAfterSeconds: result.RetryAfterSeconds,
		}
	}
	return nil
}

// dispatch delivers req in the background. Failures leave the job pending
// for the sweep to expire.
func (s *BuildService) dispatch(ctx context.Context, req *pipeline.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.dispatchTimeout)

	s.dispatches.Add(1)
	go func() {
		defer s.dispatches.Done()
		defer cancel()

		log := s.log.WithJobID(req.JobID.String()).WithGameID(req.GameID.String())
		if err := s.dispatcher.Dispatch(ctx, req); err != nil {
			s.metrics.RecordDispatchError(s.dispatcher.Mode())
			log.Error("build dispatch failed, job stays pending", "mode", s.dispatcher.Mode(), "error", err)
			s.publish(ctx, events.BuildEvent{
				Type:   events.TypeDispatchFailed,
				GameID: req.GameID.String(),
				JobID:  req.JobID.String(),
				Status: string(models.JobStatusPending),
				Error:  err.Error(),
			})
			return
		}
		log.Debug("build dispatched", "mode", s.dispatcher.Mode())
	}()
}

// WaitDispatches blocks until background dispatches finish or ctx ends
func (s *BuildService) WaitDispatches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.dispatches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the most recent job of the game
func (s *BuildService) Status(ctx context.Context, gameID uuid.UUID, userID string) (*StatusResponse, error) {
	game, err := s.repos.Games.GetForOwner(ctx, gameID, userID)
	if err != nil {
		return nil, err
	}

	job, err := s.repos.Jobs.GetLatestForGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	return &StatusResponse{
		Job:        job,
		GameStatus: game.Status,
		BundleURL:  game.BundleURL,
	}, nil
}

// Reset force-fails every active job of the game and returns it to draft.
// Safe to call when nothing is stuck.
func (s *BuildService) Reset(ctx context.Context, gameID uuid.UUID, userID string) (int64, error) {
	if _, err := s.repos.Games.GetForOwner(ctx, gameID, userID); err != nil {
		return 0, err
	}

	n, err := s.repos.Jobs.FailActiveForGame(ctx, gameID, models.ResetMessage, s.now())
	if err != nil {
		return 0, err
	}
	if err := s.repos.Games.ResetToDraft(ctx, gameID); err != nil {
		return n, err
	}

	s.log.Info("build reset", "game_id", gameID, "jobs_failed", n, "user_id", userID)
	s.publish(ctx, events.BuildEvent{
		Type:   events.TypeReset,
		GameID: gameID.String(),
		Status: string(models.GameStatusDraft),
	})
	return n, nil
}

// History lists the game's jobs, newest first
func (s *BuildService) History(ctx context.Context, gameID uuid.UUID, userID string, limit int) ([]*models.BuildJob, error) {
	if _, err := s.repos.Games.GetForOwner(ctx, gameID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	jobs, err := s.repos.Jobs.ListForGame(ctx, gameID, limit)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*models.BuildJob{}
	}
	return jobs, nil
}

func (s *BuildService) publish(ctx context.Context, ev events.BuildEvent) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish build event", "type", ev.Type, "game_id", ev.GameID, "error", err)
	}
}
