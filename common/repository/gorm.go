package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// gameRow is the gorm mapping of the games table
type gameRow struct {
	ID         string         `gorm:"primaryKey;size:36"`
	OwnerID    string         `gorm:"not null;uniqueIndex:idx_games_owner_slug"`
	Slug       string         `gorm:"not null;uniqueIndex:idx_games_owner_slug"`
	Title      string         `gorm:"not null;default:''"`
	Config     datatypes.JSON `gorm:"not null"`
	Source     *string
	Status     string `gorm:"not null;index"`
	Visibility string `gorm:"not null"`
	BundleURL  *string
	BundleSize *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (gameRow) TableName() string { return "games" }

// jobRow is the gorm mapping of the build_queue table
type jobRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	GameID      string `gorm:"not null;index:idx_build_queue_game_created,priority:1"`
	OwnerID     string `gorm:"not null"`
	Status      string `gorm:"not null"`
	Error       *string
	CreatedAt   time.Time `gorm:"index:idx_build_queue_game_created,priority:2"`
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (jobRow) TableName() string { return "build_queue" }

// NewGorm wires gorm-backed repositories. Used with SQLite for local
// development and tests.
func NewGorm(gdb *gorm.DB) *Repositories {
	return &Repositories{
		Games: &GormGameRepository{db: gdb, now: utcNow},
		Jobs:  &GormJobRepository{db: gdb},
	}
}

// MigrateGorm creates the tables plus the single-active-job index
func MigrateGorm(ctx context.Context, gdb *gorm.DB) error {
	if err := gdb.WithContext(ctx).AutoMigrate(&gameRow{}, &jobRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	err := gdb.WithContext(ctx).Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_build_queue_one_active
		ON build_queue (game_id)
		WHERE status IN ('pending', 'processing')
	`).Error
	if err != nil {
		return fmt.Errorf("failed to create active job index: %w", err)
	}
	return nil
}

func utcNow() time.Time { return time.Now().UTC() }

// GormGameRepository implements GameRepository on gorm
type GormGameRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func (r *GormGameRepository) Create(ctx context.Context, game *models.Game) error {
	row := toGameRow(game)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err, "games.") {
			return models.ErrSlugTaken
		}
		return fmt.Errorf("failed to create game: %w", err)
	}
	return nil
}

func (r *GormGameRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id.String()))
}

func (r *GormGameRepository) GetForOwner(ctx context.Context, id uuid.UUID, ownerID string) (*models.Game, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id.String(), ownerID))
}

func (r *GormGameRepository) GetBySlug(ctx context.Context, ownerID, slug string) (*models.Game, error) {
	return r.first(r.db.WithContext(ctx).Where("owner_id = ? AND slug = ?", ownerID, slug))
}

func (r *GormGameRepository) UpdateContent(ctx context.Context, id uuid.UUID, config json.RawMessage, source *string) error {
	res := r.db.WithContext(ctx).Model(&gameRow{}).
		Where("id = ? AND status <> ?", id.String(), string(models.GameStatusBuilding)).
		Updates(map[string]any{
			"config":      datatypes.JSON(configBytes(config)),
			"source":      source,
			"status":      string(models.GameStatusDraft),
			"bundle_url":  nil,
			"bundle_size": nil,
			"updated_at":  r.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update game content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return models.ErrBuildInProgress
	}
	return nil
}

func (r *GormGameRepository) SetVisibility(ctx context.Context, id uuid.UUID, visibility models.Visibility) (*models.Game, error) {
	var out *models.Game
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row gameRow
		if err := tx.Where("id = ?", id.String()).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}

		status := models.GameStatus(row.Status)
		if visibility == models.VisibilityPublic {
			if !status.HasArtifact() {
				return models.ErrVisibilityNotAllowed
			}
			status = models.GameStatusPublished
		}

		row.Visibility = string(visibility)
		row.Status = string(status)
		row.UpdatedAt = r.now()
		if err := tx.Model(&gameRow{}).Where("id = ?", row.ID).Updates(map[string]any{
			"visibility": row.Visibility,
			"status":     row.Status,
			"updated_at": row.UpdatedAt,
		}).Error; err != nil {
			return err
		}

		game, err := fromGameRow(&row)
		out = game
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrGameNotFound) || errors.Is(err, models.ErrVisibilityNotAllowed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to set visibility: %w", err)
	}
	return out, nil
}

func (r *GormGameRepository) MarkBuilding(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&gameRow{}).
		Where("id = ? AND status = ?", id.String(), string(models.GameStatusDraft)).
		Updates(map[string]any{"status": string(models.GameStatusBuilding), "updated_at": r.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to mark game building: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrGameNotBuildable
	}
	return nil
}

func (r *GormGameRepository) MarkBuilt(ctx context.Context, id, jobID uuid.UUID, bundleURL string, bundleSize int64) error {
	res := r.db.WithContext(ctx).Model(&gameRow{}).
		Where("id = ? AND status = ?", id.String(), string(models.GameStatusBuilding)).
		Where(`EXISTS (SELECT 1 FROM build_queue
			WHERE build_queue.id = ? AND build_queue.game_id = ? AND build_queue.status = ?)`,
			jobID.String(), id.String(), string(models.JobStatusProcessing)).
		Updates(map[string]any{
			"status":      string(models.GameStatusBuilt),
			"bundle_url":  bundleURL,
			"bundle_size": bundleSize,
			"updated_at":  r.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark game built: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrSuperseded
	}
	return nil
}

func (r *GormGameRepository) SettleBuilding(ctx context.Context, id uuid.UUID, status models.GameStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&gameRow{}).
		Where("id = ? AND status = ?", id.String(), string(models.GameStatusBuilding)).
		Where(`NOT EXISTS (SELECT 1 FROM build_queue
			WHERE build_queue.game_id = ? AND build_queue.status IN ?)`,
			id.String(), activeStatuses()).
		Updates(map[string]any{"status": string(status), "updated_at": r.now()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to settle game status: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGameRepository) ResetToDraft(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&gameRow{}).
		Where("id = ?", id.String()).
		Updates(map[string]any{"status": string(models.GameStatusDraft), "updated_at": r.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to reset game: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrGameNotFound
	}
	return nil
}

func (r *GormGameRepository) ListStuckBuilding(ctx context.Context, limit int) ([]*models.Game, error) {
	var rows []gameRow
	err := r.db.WithContext(ctx).
		Where("status = ?", string(models.GameStatusBuilding)).
		Where(`NOT EXISTS (SELECT 1 FROM build_queue
			WHERE build_queue.game_id = games.id AND build_queue.status IN ?)`, activeStatuses()).
		Order("updated_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck games: %w", err)
	}

	games := make([]*models.Game, 0, len(rows))
	for i := range rows {
		game, err := fromGameRow(&rows[i])
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, nil
}

func (r *GormGameRepository) first(q *gorm.DB) (*models.Game, error) {
	var row gameRow
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return fromGameRow(&row)
}

// GormJobRepository implements JobRepository on gorm
type GormJobRepository struct {
	db *gorm.DB
}

func (r *GormJobRepository) Create(ctx context.Context, job *models.BuildJob) error {
	row := toJobRow(job)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err, "build_queue.game_id") {
			return models.ErrBuildInProgress
		}
		return fmt.Errorf("failed to create build job: %w", err)
	}
	return nil
}

func (r *GormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BuildJob, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id.String()))
}

func (r *GormJobRepository) GetActiveForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error) {
	job, err := r.first(r.db.WithContext(ctx).
		Where("game_id = ? AND status IN ?", gameID.String(), activeStatuses()).
		Order("created_at DESC"))
	if errors.Is(err, models.ErrJobNotFound) {
		return nil, nil
	}
	return job, err
}

func (r *GormJobRepository) GetLatestForGame(ctx context.Context, gameID uuid.UUID) (*models.BuildJob, error) {
	return r.first(r.db.WithContext(ctx).
		Where("game_id = ?", gameID.String()).
		Order("created_at DESC").Order("id DESC"))
}

func (r *GormJobRepository) ListForGame(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.BuildJob, error) {
	return r.find(r.db.WithContext(ctx).
		Where("game_id = ?", gameID.String()).
		Order("created_at DESC").Order("id DESC").
		Limit(limit))
}

func (r *GormJobRepository) Claim(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status = ?", id.String(), string(models.JobStatusPending)).
		Updates(map[string]any{"status": string(models.JobStatusProcessing), "started_at": startedAt.UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to claim build job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return models.ErrJobNotClaimable
	}
	return nil
}

func (r *GormJobRepository) Complete(ctx context.Context, id uuid.UUID, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status = ?", id.String(), string(models.JobStatusProcessing)).
		Updates(map[string]any{"status": string(models.JobStatusCompleted), "completed_at": completedAt.UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to complete build job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrSuperseded
	}
	return nil
}

func (r *GormJobRepository) Fail(ctx context.Context, id uuid.UUID, message string, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&jobRow{}).
		Where("id = ? AND status IN ?", id.String(), activeStatuses()).
		Updates(map[string]any{
			"status":       string(models.JobStatusFailed),
			"error":        message,
			"completed_at": completedAt.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail build job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrSuperseded
	}
	return nil
}

func (r *GormJobRepository) FailActiveForGame(ctx context.Context, gameID uuid.UUID, message string, completedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&jobRow{}).
		Where("game_id = ? AND status IN ?", gameID.String(), activeStatuses()).
		Updates(map[string]any{
			"status":       string(models.JobStatusFailed),
			"error":        message,
			"completed_at": completedAt.UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset build jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormJobRepository) ListExpired(ctx context.Context, pendingBefore, processingBefore time.Time, limit int) ([]*models.BuildJob, error) {
	return r.find(r.db.WithContext(ctx).
		Where("(status = ? AND created_at < ?) OR (status = ? AND started_at < ?)",
			string(models.JobStatusPending), pendingBefore.UTC(),
			string(models.JobStatusProcessing), processingBefore.UTC()).
		Order("created_at").
		Limit(limit))
}

func (r *GormJobRepository) first(q *gorm.DB) (*models.BuildJob, error) {
	var row jobRow
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get build job: %w", err)
	}
	return fromJobRow(&row)
}

func (r *GormJobRepository) find(q *gorm.DB) ([]*models.BuildJob, error) {
	var rows []jobRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list build jobs: %w", err)
	}
	jobs := make([]*models.BuildJob, 0, len(rows))
	for i := range rows {
		job, err := fromJobRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func toGameRow(g *models.Game) *gameRow {
	return &gameRow{
		ID:         g.ID.String(),
		OwnerID:    g.OwnerID,
		Slug:       g.Slug,
		Title:      g.Title,
		Config:     datatypes.JSON(configBytes(g.Config)),
		Source:     g.Source,
		Status:     string(g.Status),
		Visibility: string(g.Visibility),
		BundleURL:  g.BundleURL,
		BundleSize: g.BundleSize,
		CreatedAt:  g.CreatedAt.UTC(),
		UpdatedAt:  g.UpdatedAt.UTC(),
	}
}

func fromGameRow(row *gameRow) (*models.Game, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid game id %q: %w", row.ID, err)
	}
	return &models.Game{
		ID:         id,
		OwnerID:    row.OwnerID,
		Slug:       row.Slug,
		Title:      row.Title,
		Config:     json.RawMessage(row.Config),
		Source:     row.Source,
		Status:     models.GameStatus(row.Status),
		Visibility: models.Visibility(row.Visibility),
		BundleURL:  row.BundleURL,
		BundleSize: row.BundleSize,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}, nil
}

func toJobRow(j *models.BuildJob) *jobRow {
	return &jobRow{
		ID:          j.ID.String(),
		GameID:      j.GameID.String(),
		OwnerID:     j.OwnerID,
		Status:      string(j.Status),
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.UTC(),
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func fromJobRow(row *jobRow) (*models.BuildJob, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", row.ID, err)
	}
	gameID, err := uuid.Parse(row.GameID)
	if err != nil {
		return nil, fmt.Errorf("invalid game id %q: %w", row.GameID, err)
	}
	return &models.BuildJob{
		ID:          id,
		GameID:      gameID,
		OwnerID:     row.OwnerID,
		Status:      models.JobStatus(row.Status),
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		StartedAt:   row.StartedAt,
		CompletedAt: row.CompletedAt,
	}, nil
}

// isDuplicate matches SQLite unique failures naming the given column prefix
func isDuplicate(err error, column string) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
