package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/gameconfig"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
)

const maxSourceBytes = 512 << 10

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidationError is a client input problem, reported as 422
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GameService manages the owner-editable parts of a game
type GameService struct {
	games repository.GameRepository
	log   *logger.Logger
	now   func() time.Time
}

func NewGameService(games repository.GameRepository, log *logger.Logger) *GameService {
	return &GameService{
		games: games,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateGameRequest represents the input for creating a game
type CreateGameRequest struct {
	Slug   string          `json:"slug"`
	Title  string          `json:"title"`
	Config json.RawMessage `json:"config"`
	Source *string         `json:"source,omitempty"`
}

// Create stores a new private draft game
func (s *GameService) Create(ctx context.Context, ownerID string, req *CreateGameRequest) (*models.Game, error) {
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if len(slug) == 0 || len(slug) > 64 || !slugPattern.MatchString(slug) {
		return nil, &ValidationError{Field: "slug", Message: "must be 1-64 lowercase letters, digits or dashes"}
	}

	config := req.Config
	if len(config) == 0 || string(config) == "null" {
		config = json.RawMessage("{}")
	}
	if err := gameconfig.Validate(config); err != nil {
		return nil, err
	}
	if err := validateSource(req.Source); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = slug
	}

	now := s.now()
	game := &models.Game{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Slug:       slug,
		Title:      title,
		Config:     config,
		Source:     req.Source,
		Status:     models.GameStatusDraft,
		Visibility: models.VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.games.Create(ctx, game); err != nil {
		return nil, err
	}

	s.log.Info("game created", "game_id", game.ID, "owner_id", ownerID, "slug", slug)
	return game, nil
}

// Get returns the owner's view of a game
func (s *GameService) Get(ctx context.Context, gameID uuid.UUID, ownerID string) (*models.Game, error) {
	return s.games.GetForOwner(ctx, gameID, ownerID)
}

// ReplaceConfig swaps the whole config document. The game returns to draft.
func (s *GameService) ReplaceConfig(ctx context.Context, gameID uuid.UUID, ownerID string, doc json.RawMessage) (*models.Game, error) {
	game, err := s.games.GetForOwner(ctx, gameID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := gameconfig.Validate(doc); err != nil {
		return nil, err
	}
	return s.update(ctx, game, doc, game.Source)
}

// PatchConfig applies an RFC 6902 patch to the config document
func (s *GameService) PatchConfig(ctx context.Context, gameID uuid.UUID, ownerID string, patch json.RawMessage) (*models.Game, error) {
	game, err := s.games.GetForOwner(ctx, gameID, ownerID)
	if err != nil {
		return nil, err
	}
	doc, err := gameconfig.ApplyPatch(game.Config, patch)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, game, doc, game.Source)
}

// ReplaceSource sets or clears the generated source. A nil source makes the
// next build use the fallback template.
func (s *GameService) ReplaceSource(ctx context.Context, gameID uuid.UUID, ownerID string, source *string) (*models.Game, error) {
	game, err := s.games.GetForOwner(ctx, gameID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := validateSource(source); err != nil {
		return nil, err
	}
	return s.update(ctx, game, game.Config, source)
}

// SetVisibility changes who may play the game
func (s *GameService) SetVisibility(ctx context.Context, gameID uuid.UUID, ownerID string, visibility models.Visibility) (*models.Game, error) {
	if !visibility.Valid() {
		return nil, &ValidationError{Field: "visibility", Message: "must be private, unlisted or public"}
	}
	if _, err := s.games.GetForOwner(ctx, gameID, ownerID); err != nil {
		return nil, err
	}

	game, err := s.games.SetVisibility(ctx, gameID, visibility)
	if err != nil {
		return nil, err
	}
	s.log.Info("visibility changed", "game_id", gameID, "visibility", visibility, "status", game.Status)
	return game, nil
}

func (s *GameService) update(ctx context.Context, game *models.Game, config json.RawMessage, source *string) (*models.Game, error) {
	if err := s.games.UpdateContent(ctx, game.ID, config, source); err != nil {
		return nil, err
	}
	s.log.Info("game content updated, status reset to draft", "game_id", game.ID, "previous_status", game.Status)
	return s.games.GetByID(ctx, game.ID)
}

func validateSource(source *string) error {
	if source != nil && len(*source) > maxSourceBytes {
		return &ValidationError{Field: "source", Message: fmt.Sprintf("exceeds %d bytes", maxSourceBytes)}
	}
	return nil
}

// IsValidation reports whether err should be shown to the client as 422
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, gameconfig.ErrInvalid) ||
		errors.Is(err, models.ErrVisibilityNotAllowed)
}
