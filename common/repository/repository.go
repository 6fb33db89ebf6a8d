package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
)

// GameRepository persists Game records.
//
// Status writes made on behalf of the build pipeline are conditional so that
// two independent rows (game and build job) converge even without a
// transaction spanning them.
type GameRepository interface {
	Create(ctx context.Context, game *models.Game) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error)
	// GetForOwner returns ErrGameNotFound for games owned by someone else
	GetForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Game, error)
	GetBySlug(ctx context.Context, ownerID, slug string) (*models.Game, error)

	// UpdateContent replaces config and source, resets status to draft and
	// clears the artifact reference. Returns ErrBuildInProgress while building.
	UpdateContent(ctx context.Context, id uuid.UUID, config json.RawMessage, source *string) error

	// SetVisibility returns ErrVisibilityNotAllowed when making an unbuilt game
	// public. Making a built game public moves it to published.
	SetVisibility(ctx context.Context, id uuid.UUID, visibility models.Visibility) (*models.Game, error)

	// MarkBuilding moves draft -> building, ErrGameNotBuildable otherwise
	MarkBuilding(ctx context.Context, id uuid.UUID) error

	// MarkBuilt records the artifact and moves building -> built, but only
	// while jobID is still processing. Returns ErrSuperseded otherwise.
	MarkBuilt(ctx context.Context, id, jobID uuid.UUID, bundleURL string, bundleSize int64) error

	// SettleBuilding moves building -> status when the game has no active job.
	// Reports whether a row changed.
	SettleBuilding(ctx context.Context, id uuid.UUID, status models.GameStatus) (bool, error)

	// ResetToDraft force-sets status to draft
	ResetToDraft(ctx context.Context, id uuid.UUID) error

	// ListStuckBuilding returns games in building with no pending or processing job
	ListStuckBuilding(ctx context.Context, limit int) ([]*models.Game, error)
}

// JobRepository persists BuildJob rows; the table is the build queue.
type JobRepository interface {
	// Create inserts a pending job. Returns ErrBuildInProgress when the game
	// already has an active job.
	Create(ctx context.Context, job *models.BuildJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.BuildJob, error)
	// GetActiveForGame returns nil, nil when the game has no active job
	GetActiveForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error)
	// GetLatestForGame returns ErrJobNotFound when the game has no jobs
	GetLatestForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error)
	ListForGame(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.BuildJob, error)

	// Claim moves pending -> processing, ErrJobNotClaimable otherwise
	Claim(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	// Complete moves processing -> completed, ErrSuperseded otherwise
	Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error
	// Fail moves pending|processing -> failed, ErrSuperseded otherwise
	Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error
	// FailActiveForGame force-fails every active job of the game
	FailActiveForGame(ctx context.Context, gameID uuid.UUID, message string, completedAt time.Time) (int64, error)

	// ListExpired returns pending jobs created before pendingBefore and
	// processing jobs started before processingBefore
	ListExpired(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.BuildJob, error)
}

// Repositories bundles both stores behind one handle
type Repositories struct {
	Games GameRepository
	Jobs  JobRepository
}

func activeStatuses() []string {
	return []string{string(models.JobStatusPending), string(models.JobStatusProcessing)}
}

var (
	_ GameRepository = (*PostgresGameRepository)(nil)
	_ JobRepository  = (*PostgresJobRepository)(nil)
	_ GameRepository = (*GormGameRepository)(nil)
	_ JobRepository  = (*GormJobRepository)(nil)
)
