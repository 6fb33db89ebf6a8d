package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
)

// BuildAccepted is the 202 body of an enqueue
type BuildAccepted struct {
	JobID  uuid.UUID `json:"job_id"`
	GameID uuid.UUID `json:"game_id"`
	Status string    `json:"status"`
}

// BuildStatus pairs the latest job with its game's status
type BuildStatus struct {
	Job        *models.BuildJob  `json:"job"`
	GameStatus models.GameStatus `json:"game_status"`
	BundleURL  *string           `json:"bundle_url,omitempty"`
}

// ResetResult reports how many active jobs a reset force-failed
type ResetResult struct {
	Reset int64 `json:"reset"`
}

// CreateGameRequest is the body of POST /api/v1/games
type CreateGameRequest struct {
	Slug   string          `json:"slug"`
	Title  string          `json:"title"`
	Config json.RawMessage `json:"config,omitempty"`
	Source *string         `json:"source,omitempty"`
}

// APIClient talks to kyx-api as a user. Identity comes from the context
// (WithUserID or WithToken).
type APIClient struct {
	baseURL string
	http    *HTTPClient
	logger  Logger
}

// NewAPIClient creates a new kyx-api client
func NewAPIClient(baseURL string, logger Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    NewHTTPClient(&http.Client{Timeout: 30 * time.Second}, logger),
		logger:  logger,
	}
}

func (c *APIClient) gameURL(gameID uuid.UUID, suffix string) string {
	return fmt.Sprintf("%s/api/v1/games/%s%s", c.baseURL, gameID, suffix)
}

// CreateGame creates a draft game
func (c *APIClient) CreateGame(ctx context.Context, req *CreateGameRequest) (*models.Game, error) {
	var game models.Game
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/games", req, &game, nil, http.StatusCreated); err != nil {
		return nil, err
	}
	return &game, nil
}

// GetGame fetches the owner view of a game
func (c *APIClient) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	var game models.Game
	if err := c.http.DoJSON(ctx, http.MethodGet, c.gameURL(gameID, ""), nil, &game, nil, http.StatusOK); err != nil {
		return nil, err
	}
	return &game, nil
}

// Build enqueues a build for the game
func (c *APIClient) Build(ctx context.Context, gameID uuid.UUID) (*BuildAccepted, error) {
	var accepted BuildAccepted
	if err := c.http.DoJSON(ctx, http.MethodPost, c.gameURL(gameID, "/build"), nil, &accepted, nil, http.StatusAccepted); err != nil {
		return nil, err
	}
	c.logger.Info("build accepted", "game_id", gameID, "job_id", accepted.JobID)
	return &accepted, nil
}

// BuildStatus returns the latest job of the game
func (c *APIClient) BuildStatus(ctx context.Context, gameID uuid.UUID) (*BuildStatus, error) {
	var status BuildStatus
	if err := c.http.DoJSON(ctx, http.MethodGet, c.gameURL(gameID, "/build"), nil, &status, nil, http.StatusOK); err != nil {
		return nil, err
	}
	if status.Job == nil {
		return nil, fmt.Errorf("status response missing job")
	}
	return &status, nil
}

// Reset force-fails any active job and returns the game to draft
func (c *APIClient) Reset(ctx context.Context, gameID uuid.UUID) (*ResetResult, error) {
	var result ResetResult
	if err := c.http.DoJSON(ctx, http.MethodPost, c.gameURL(gameID, "/build/reset"), nil, &result, nil, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// History lists the game's jobs, newest first
func (c *APIClient) History(ctx context.Context, gameID uuid.UUID, limit int) ([]*models.BuildJob, error) {
	var body struct {
		Builds []*models.BuildJob `json:"builds"`
	}
	url := c.gameURL(gameID, fmt.Sprintf("/builds?limit=%d", limit))
	if err := c.http.DoJSON(ctx, http.MethodGet, url, nil, &body, nil, http.StatusOK); err != nil {
		return nil, err
	}
	return body.Builds, nil
}
