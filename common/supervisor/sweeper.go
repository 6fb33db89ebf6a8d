// Package supervisor repairs build state that no request will ever fix:
// jobs whose build service never showed up or died mid-build, and games
// left in building after their job already ended.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/metrics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
)

const (
	MessagePendingExpired    = "build was never picked up by the build service"
	MessageProcessingExpired = "build exceeded its processing lease"

	defaultLockKey = "kyx:lock:build-sweep"
)

// Locker keeps two replicas from sweeping at once. The Redis client
// wrapper satisfies it. ReleaseLock must only delete a key still holding value.
type Locker interface {
	SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// SweepReport counts what one pass changed
type SweepReport struct {
	ExpiredPending    int  `json:"expired_pending"`
	ExpiredProcessing int  `json:"expired_processing"`
	JobsCompleted     int  `json:"jobs_completed"`
	GamesFailed       int  `json:"games_failed"`
	GamesBuilt        int  `json:"games_built"`
	GamesReset        int  `json:"games_reset"`
	Skipped           bool `json:"skipped"`
}

// Sweeper expires stale jobs and reconciles game status with the latest job
type Sweeper struct {
	games   repository.GameRepository
	jobs    repository.JobRepository
	logger  *logger.Logger
	events  events.Publisher
	metrics *metrics.BuildMetrics

	checkInterval     time.Duration
	pendingTimeout    time.Duration
	processingTimeout time.Duration
	batchSize         int

	locker   Locker
	lockKey  string
	holderID string

	now func() time.Time
}

// NewSweeper creates a sweeper with conservative defaults
func NewSweeper(repos *repository.Repositories, log *logger.Logger) *Sweeper {
	host, _ := os.Hostname()
	return &Sweeper{
		games:             repos.Games,
		jobs:              repos.Jobs,
		logger:            log,
		events:            events.Nop{},
		checkInterval:     time.Minute,
		pendingTimeout:    10 * time.Minute,
		processingTimeout: 5 * time.Minute,
		batchSize:         100,
		lockKey:           defaultLockKey,
		holderID:          host + "/" + uuid.NewString(),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithCheckInterval sets the check interval
func (s *Sweeper) WithCheckInterval(interval time.Duration) *Sweeper {
	s.checkInterval = interval
	return s
}

// WithTimeouts sets how long a job may stay pending and processing
func (s *Sweeper) WithTimeouts(pending, processing time.Duration) *Sweeper {
	s.pendingTimeout = pending
	s.processingTimeout = processing
	return s
}

func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

func (s *Sweeper) WithEvents(p events.Publisher) *Sweeper {
	s.events = p
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.BuildMetrics) *Sweeper {
	s.metrics = m
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start sweeps once, then on every tick until ctx is done
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("build sweeper starting",
		"check_interval", s.checkInterval,
		"pending_timeout", s.pendingTimeout,
		"processing_timeout", s.processingTimeout)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("build sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("build sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	if s.locker != nil {
		ok, err := s.locker.SetNX(ctx, s.lockKey, s.holderID, s.checkInterval)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sweep lock: %w", err)
		}
		if !ok {
			s.logger.Debug("sweep lock held elsewhere, skipping")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			released, err := s.locker.ReleaseLock(context.WithoutCancel(ctx), s.lockKey, s.holderID)
			switch {
			case err != nil:
				s.logger.Warn("failed to release sweep lock", "error", err)
			case !released:
				s.logger.Warn("sweep lock expired before the pass finished", "check_interval", s.checkInterval)
			}
		}()
	}

	if err := s.expireJobs(ctx, report); err != nil {
		return report, err
	}
	if err := s.settleGames(ctx, report); err != nil {
		return report, err
	}

	s.metrics.RecordSwept("pending_expired", report.ExpiredPending)
	s.metrics.RecordSwept("processing_expired", report.ExpiredProcessing)
	s.metrics.RecordSwept("job_completed", report.JobsCompleted)
	s.metrics.RecordSwept("game_failed", report.GamesFailed)
	s.metrics.RecordSwept("game_built", report.GamesBuilt)
	s.metrics.RecordSwept("game_reset", report.GamesReset)

	if report.ExpiredPending+report.ExpiredProcessing+report.JobsCompleted+report.GamesFailed+report.GamesBuilt+report.GamesReset > 0 {
		s.logger.Info("build sweep repaired state",
			"expired_pending", report.ExpiredPending,
			"expired_processing", report.ExpiredProcessing,
			"jobs_completed", report.JobsCompleted,
			"games_failed", report.GamesFailed,
			"games_built", report.GamesBuilt,
			"games_reset", report.GamesReset)
	}
	return report, nil
}

// expireJobs fails jobs past their lease and settles their games
func (s *Sweeper) expireJobs(ctx context.Context, report *SweepReport) error {
	now := s.now()
	expired, err := s.jobs.ListExpired(ctx, now.Add(-s.pendingTimeout), now.Add(-s.processingTimeout), s.batchSize)
	if err != nil {
		return err
	}

	for _, job := range expired {
		msg := MessagePendingExpired
		if job.Status == models.JobStatusProcessing {
			msg = MessageProcessingExpired
			if s.completePublished(ctx, job, now) {
				report.JobsCompleted++
				continue
			}
		}

		s.logger.Warn("expiring stale build job",
			"job_id", job.ID,
			"game_id", job.GameID,
			"status", job.Status,
			"age", now.Sub(job.CreatedAt))

		if err := s.jobs.Fail(ctx, job.ID, msg, now); err != nil {
			if errors.Is(err, models.ErrSuperseded) {
				continue
			}
			s.logger.Error("failed to expire build job", "job_id", job.ID, "error", err)
			continue
		}

		if job.Status == models.JobStatusProcessing {
			report.ExpiredProcessing++
		} else {
			report.ExpiredPending++
		}

		if _, err := s.games.SettleBuilding(ctx, job.GameID, models.GameStatusFailed); err != nil {
			s.logger.Error("failed to settle game", "game_id", job.GameID, "error", err)
		}
		s.publish(ctx, events.BuildEvent{
			Type:   events.TypeFailed,
			GameID: job.GameID.String(),
			JobID:  job.ID.String(),
			Status: string(models.JobStatusFailed),
			Error:  msg,
		})
	}
	return nil
}

// completePublished finishes a processing job whose game already holds its
// bundle: the orchestrator published the artifact but lost the job write.
func (s *Sweeper) completePublished(ctx context.Context, job *models.BuildJob, now time.Time) bool {
	game, err := s.games.GetByID(ctx, job.GameID)
	if err != nil {
		if !errors.Is(err, models.ErrGameNotFound) {
			s.logger.Error("failed to load game for expired job", "game_id", job.GameID, "error", err)
		}
		return false
	}
	if !builtBy(game, job) {
		return false
	}

	if err := s.jobs.Complete(ctx, job.ID, now); err != nil {
		if !errors.Is(err, models.ErrSuperseded) {
			s.logger.Error("failed to complete build job", "job_id", job.ID, "error", err)
		}
		return false
	}

	s.logger.Warn("completed build job whose game was already built",
		"job_id", job.ID,
		"game_id", job.GameID,
		"game_status", game.Status)
	s.publish(ctx, events.BuildEvent{
		Type:      events.TypeCompleted,
		GameID:    job.GameID.String(),
		JobID:     job.ID.String(),
		Status:    string(models.JobStatusCompleted),
		BundleURL: *game.BundleURL,
	})
	return true
}

// builtBy reports whether game's artifact was recorded by job. Admission
// needs a draft game and settling needs no active job, so while job is
// processing only its own publish can have moved the game to built.
func builtBy(game *models.Game, job *models.BuildJob) bool {
	return job.Status == models.JobStatusProcessing &&
		game.Status.HasArtifact() && game.BundleURL != nil
}

// settleGames applies the pairing rule to games left in building with no
// active job: the game follows its latest job, or returns to draft if it
// has none.
func (s *Sweeper) settleGames(ctx context.Context, report *SweepReport) error {
	stuck, err := s.games.ListStuckBuilding(ctx, s.batchSize)
	if err != nil {
		return err
	}

	for _, game := range stuck {
		target := models.GameStatusDraft
		latest, err := s.jobs.GetLatestForGame(ctx, game.ID)
		switch {
		case errors.Is(err, models.ErrJobNotFound):
		case err != nil:
			s.logger.Error("failed to load latest job", "game_id", game.ID, "error", err)
			continue
		case latest.Status == models.JobStatusCompleted && game.BundleURL != nil:
			target = models.GameStatusBuilt
		default:
			target = models.GameStatusFailed
		}

		changed, err := s.games.SettleBuilding(ctx, game.ID, target)
		if err != nil {
			s.logger.Error("failed to settle game", "game_id", game.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}

		s.logger.Warn("settled game stuck in building", "game_id", game.ID, "status", target)
		switch target {
		case models.GameStatusBuilt:
			report.GamesBuilt++
		case models.GameStatusFailed:
			report.GamesFailed++
		default:
			report.GamesReset++
		}
	}
	return nil
}

func (s *Sweeper) publish(ctx context.Context, ev events.BuildEvent) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish build event", "game_id", ev.GameID, "error", err)
	}
}
