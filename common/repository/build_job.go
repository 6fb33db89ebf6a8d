package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/db"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, game_id, owner_id, status, error, created_at, started_at, completed_at`

// PostgresJobRepository handles Postgres operations for the build_queue table
type PostgresJobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new Postgres build job repository
func NewJobRepository(database *db.DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: database}
}

// NewPostgres wires both Postgres repositories
func NewPostgres(database *db.DB) *Repositories {
	return &Repositories{
		Games: NewGameRepository(database),
		Jobs:  NewJobRepository(database),
	}
}

// Create inserts a pending build job
func (r *PostgresJobRepository) Create(ctx context.Context, job *models.BuildJob) error {
	query := `
		INSERT INTO build_queue (id, game_id, owner_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, job.ID, job.GameID, job.OwnerID, job.Status, job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "idx_build_queue_one_active") {
			return models.ErrBuildInProgress
		}
		return fmt.Errorf("failed to create build job: %w", err)
	}

	return nil
}

// GetByID retrieves a build job by its ID
func (r *PostgresJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM build_queue WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetActiveForGame returns the game's pending or processing job, if any
func (r *PostgresJobRepository) GetActiveForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM build_queue
		WHERE game_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := r.getOne(ctx, query, gameID, activeStatuses())
	if errors.Is(err, models.ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}

// GetLatestForGame returns the most recently created job of the game
func (r *PostgresJobRepository) GetLatestForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM build_queue
		WHERE game_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, gameID)
}

// ListForGame returns the game's jobs, newest first
func (r *PostgresJobRepository) ListForGame(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.BuildJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM build_queue
		WHERE game_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, gameID, limit)
}

// Claim moves a pending job into processing
func (r *PostgresJobRepository) Claim(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE build_queue
		SET status = 'processing', started_at = $2
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id, startedAt)
	if err != nil {
		return fmt.Errorf("failed to claim build job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return models.ErrJobNotClaimable
	}
	return nil
}

// Complete moves a processing job into completed
func (r *PostgresJobRepository) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	query := `
		UPDATE build_queue
		SET status = 'completed', completed_at = $2
		WHERE id = $1 AND status = 'processing'
	`

	tag, err := r.db.Exec(ctx, query, id, completedAt)
	if err != nil {
		return fmt.Errorf("failed to complete build job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSuperseded
	}
	return nil
}

// Fail moves an active job into failed with a message
func (r *PostgresJobRepository) Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	query := `
		UPDATE build_queue
		SET status = 'failed', error = $2, completed_at = $3
		WHERE id = $1 AND status = ANY($4)
	`

	tag, err := r.db.Exec(ctx, query, id, message, completedAt, activeStatuses())
	if err != nil {
		return fmt.Errorf("failed to fail build job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSuperseded
	}
	return nil
}

// FailActiveForGame force-fails every active job of a game
func (r *PostgresJobRepository) FailActiveForGame(ctx context.Context, gameID uuid.UUID, message string, completedAt time.Time) (int64, error) {
	query := `
		UPDATE build_queue
		SET status = 'failed', error = $2, completed_at = $3
		WHERE game_id = $1 AND status = ANY($4)
	`

	tag, err := r.db.Exec(ctx, query, gameID, message, completedAt, activeStatuses())
	if err != nil {
		return 0, fmt.Errorf("failed to reset build jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListExpired returns active jobs whose lease ran out
func (r *PostgresJobRepository) ListExpired(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.BuildJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM build_queue
		WHERE (status = 'pending' AND created_at < $1)
		   OR (status = 'processing' AND started_at < $2)
		ORDER BY created_at
		LIMIT $3
	`
	return r.list(ctx, query, pendingBefore, processingBefore, limit)
}

func (r *PostgresJobRepository) getOne(ctx context.Context, query string, args ...any) (*models.BuildJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get build job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobRepository) list(ctx context.Context, query string, args ...any) ([]*models.BuildJob, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list build jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BuildJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan build job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating build jobs: %w", err)
	}

	return jobs, nil
}

func scanJob(row pgx.Row) (*models.BuildJob, error) {
	job := &models.BuildJob{}
	err := row.Scan(
		&job.ID,
		&job.GameID,
		&job.OwnerID,
		&job.Status,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
