package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/db"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const gameColumns = `id, owner_id, slug, title, config, source, status, visibility,
	bundle_url, bundle_size, created_at, updated_at`

// PostgresGameRepository handles Postgres operations for games
type PostgresGameRepository struct {
	db *db.DB
}

// NewGameRepository creates a new Postgres game repository
func NewGameRepository(database *db.DB) *PostgresGameRepository {
	return &PostgresGameRepository{db: database}
}

// Create inserts a new game
func (r *PostgresGameRepository) Create(ctx context.Context, game *models.Game) error {
	query := `
		INSERT INTO games (id, owner_id, slug, title, config, source, status, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		game.ID,
		game.OwnerID,
		game.Slug,
		game.Title,
		configBytes(game.Config),
		game.Source,
		game.Status,
		game.Visibility,
		game.CreatedAt,
		game.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_games_owner_slug") {
			return models.ErrSlugTaken
		}
		return fmt.Errorf("failed to create game: %w", err)
	}

	return nil
}

// GetByID retrieves a game by its ID
func (r *PostgresGameRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetForOwner retrieves a game only if ownerID owns it
func (r *PostgresGameRepository) GetForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1 AND owner_id = $2`
	return r.getOne(ctx, query, id, ownerID)
}

// GetBySlug retrieves a game by owner and slug
func (r *PostgresGameRepository) GetBySlug(ctx context.Context, ownerID, slug string) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE owner_id = $1 AND slug = $2`
	return r.getOne(ctx, query, ownerID, slug)
}

// UpdateContent replaces config/source and discards stale build state
func (r *PostgresGameRepository) UpdateContent(ctx context.Context, id uuid.UUID, config json.RawMessage, source *string) error {
	query := `
		UPDATE games
		SET config = $2, source = $3, status = 'draft',
			bundle_url = NULL, bundle_size = NULL, updated_at = now()
		WHERE id = $1 AND status <> 'building'
	`

	tag, err := r.db.Exec(ctx, query, id, configBytes(config), source)
	if err != nil {
		return fmt.Errorf("failed to update game content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return models.ErrBuildInProgress
	}

	return nil
}

// SetVisibility updates visibility, promoting built games to published when made public
func (r *PostgresGameRepository) SetVisibility(ctx context.Context, id uuid.UUID, visibility models.Visibility) (*models.Game, error) {
	query := `
		UPDATE games
		SET visibility = $2,
			status = CASE WHEN $2 = 'public' AND status = 'built' THEN 'published' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND ($2 <> 'public' OR status IN ('built', 'published'))
		RETURNING ` + gameColumns

	game, err := r.getOne(ctx, query, id, string(visibility))
	if errors.Is(err, models.ErrGameNotFound) {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, models.ErrVisibilityNotAllowed
	}
	return game, err
}

// MarkBuilding moves a draft game into building
func (r *PostgresGameRepository) MarkBuilding(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE games
		SET status = 'building', updated_at = now()
		WHERE id = $1 AND status = 'draft'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark game building: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrGameNotBuildable
	}
	return nil
}

// MarkBuilt records the artifact while jobID still owns the build slot
func (r *PostgresGameRepository) MarkBuilt(ctx context.Context, id, jobID uuid.UUID, bundleURL string, bundleSize int64) error {
	query := `
		UPDATE games
		SET status = 'built', bundle_url = $3, bundle_size = $4, updated_at = now()
		WHERE id = $1 AND status = 'building'
		  AND EXISTS (
			SELECT 1 FROM build_queue
			WHERE build_queue.id = $2 AND build_queue.game_id = $1 AND build_queue.status = 'processing'
		  )
	`

	tag, err := r.db.Exec(ctx, query, id, jobID, bundleURL, bundleSize)
	if err != nil {
		return fmt.Errorf("failed to mark game built: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSuperseded
	}
	return nil
}

// SettleBuilding moves a building game with no active job to status
func (r *PostgresGameRepository) SettleBuilding(ctx context.Context, id uuid.UUID, status models.GameStatus) (bool, error) {
	query := `
		UPDATE games
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'building'
		  AND NOT EXISTS (
			SELECT 1 FROM build_queue
			WHERE build_queue.game_id = $1 AND build_queue.status = ANY($3)
		  )
	`

	tag, err := r.db.Exec(ctx, query, id, string(status), activeStatuses())
	if err != nil {
		return false, fmt.Errorf("failed to settle game status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ResetToDraft force-sets a game back to draft
func (r *PostgresGameRepository) ResetToDraft(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE games SET status = 'draft', updated_at = now() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset game: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrGameNotFound
	}
	return nil
}

// ListStuckBuilding finds building games that no active job will settle
func (r *PostgresGameRepository) ListStuckBuilding(ctx context.Context, limit int) ([]*models.Game, error) {
	query := `
		SELECT ` + gameColumns + `
		FROM games
		WHERE status = 'building'
		  AND NOT EXISTS (
			SELECT 1 FROM build_queue
			WHERE build_queue.game_id = games.id AND build_queue.status = ANY($1)
		  )
		ORDER BY updated_at
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, activeStatuses(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck games: %w", err)
	}
	defer rows.Close()

	var games []*models.Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan game: %w", err)
		}
		games = append(games, game)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating games: %w", err)
	}

	return games, nil
}

func (r *PostgresGameRepository) getOne(ctx context.Context, query string, args ...any) (*models.Game, error) {
	game, err := scanGame(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return game, nil
}

func scanGame(row pgx.Row) (*models.Game, error) {
	game := &models.Game{}
	var config []byte
	err := row.Scan(
		&game.ID,
		&game.OwnerID,
		&game.Slug,
		&game.Title,
		&config,
		&game.Source,
		&game.Status,
		&game.Visibility,
		&game.BundleURL,
		&game.BundleSize,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	game.Config = json.RawMessage(config)
	return game, nil
}

func configBytes(config json.RawMessage) []byte {
	if len(config) == 0 {
		return []byte("{}")
	}
	return []byte(config)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}
