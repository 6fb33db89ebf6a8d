package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
)

const (
	DefaultPollInterval = 3 * time.Second
	// DefaultMaxPolls at the default interval waits about five minutes
	DefaultMaxPolls = 100
)

// ErrPollTimeout means the poll ceiling was reached while the build was
// still running. The build itself is not canceled.
var ErrPollTimeout = errors.New("timed out waiting for build")

// BuildFailedError means the build reached a failed terminal state
type BuildFailedError struct {
	JobID   uuid.UUID
	Message string
}

func (e *BuildFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("build %s failed", e.JobID)
	}
	return fmt.Sprintf("build %s failed: %s", e.JobID, e.Message)
}

// StatusCheckError means the status could not be fetched or made no sense
type StatusCheckError struct {
	Poll int
	Err  error
}

func (e *StatusCheckError) Error() string {
	return fmt.Sprintf("status check %d failed: %v", e.Poll, e.Err)
}

func (e *StatusCheckError) Unwrap() error { return e.Err }

// StatusFunc fetches the latest build status of a game
type StatusFunc func(ctx context.Context, gameID uuid.UUID) (*BuildStatus, error)

// PollResult is returned when the build succeeded
type PollResult struct {
	Status *BuildStatus
	Polls  int
}

// Poller waits for one job to settle. It polls sequentially and never
// infers completion from elapsed time.
type Poller struct {
	Status   StatusFunc
	Interval time.Duration
	MaxPolls int
	// OnUpdate, when set, is called with every status observed
	OnUpdate func(poll int, status *BuildStatus)
}

// NewPoller polls kyx-api through client
func NewPoller(client *APIClient) *Poller {
	return &Poller{
		Status:   client.BuildStatus,
		Interval: DefaultPollInterval,
		MaxPolls: DefaultMaxPolls,
	}
}

// Wait polls until jobID settles. jobID may be uuid.Nil to follow whatever
// job is latest. Returns ErrPollTimeout, *BuildFailedError,
// *StatusCheckError or the context error.
func (p *Poller) Wait(ctx context.Context, gameID, jobID uuid.UUID) (*PollResult, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	maxPolls := p.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for poll := 1; poll <= maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		status, err := p.Status(ctx, gameID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &StatusCheckError{Poll: poll, Err: err}
		}
		if status == nil || status.Job == nil {
			return nil, &StatusCheckError{Poll: poll, Err: errors.New("empty status response")}
		}
		if jobID != uuid.Nil && status.Job.ID != jobID {
			return nil, &StatusCheckError{Poll: poll, Err: fmt.Errorf("job %s was superseded by %s", jobID, status.Job.ID)}
		}

		if p.OnUpdate != nil {
			p.OnUpdate(poll, status)
		}

		done, err := settled(poll, status)
		if err != nil {
			return nil, err
		}
		if done {
			return &PollResult{Status: status, Polls: poll}, nil
		}

		timer.Reset(interval)
	}

	return nil, ErrPollTimeout
}

// settled decides from one observation. Success needs both the job completed
// and the game out of building, so the dual-write window keeps polling. A
// completed job whose game went back to draft was superseded by an edit or
// reset and will never settle.
func settled(poll int, status *BuildStatus) (bool, error) {
	job := status.Job
	switch job.Status {
	case models.JobStatusFailed:
		msg := ""
		if job.Error != nil {
			msg = *job.Error
		}
		return false, &BuildFailedError{JobID: job.ID, Message: msg}
	case models.JobStatusCompleted:
		switch {
		case status.GameStatus.HasArtifact():
			return true, nil
		case status.GameStatus == models.GameStatusFailed:
			return false, &BuildFailedError{JobID: job.ID, Message: "game marked failed"}
		case status.GameStatus == models.GameStatusDraft:
			return false, &StatusCheckError{Poll: poll, Err: fmt.Errorf("build %s was superseded: game returned to draft", job.ID)}
		}
	}
	return false, nil
}
