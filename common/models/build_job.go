package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a build attempt
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ActiveJobStatuses are the statuses that occupy a game's single build slot
var ActiveJobStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the job holds the game's build slot
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// pending -> failed is reserved for reset and lease expiry
var validJobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
}

// ValidateJobTransition returns ErrInvalidTransition for disallowed moves
func ValidateJobTransition(from, to JobStatus) error {
	for _, allowed := range validJobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, from, to)
}

// BuildJob is one attempt to compile a game into a playable artifact
type BuildJob struct {
	ID          uuid.UUID  `json:"id"`
	GameID      uuid.UUID  `json:"game_id"`
	OwnerID     string     `json:"owner_id"`
	Status      JobStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the job ran, zero if it never started or finished
func (j *BuildJob) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Message used when an owner force-fails stuck jobs
const ResetMessage = "manually reset"
