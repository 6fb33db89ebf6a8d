package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/gameconfig"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/labstack/echo/v4"
)

// GameHandler handles game record requests
type GameHandler struct {
	games *service.GameService
	log   *logger.Logger
}

// NewGameHandler creates a new game handler
func NewGameHandler(games *service.GameService, log *logger.Logger) *GameHandler {
	return &GameHandler{games: games, log: log}
}

// Create stores a new draft game
// POST /api/v1/games
func (h *GameHandler) Create(c echo.Context) error {
	var req service.CreateGameRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}

	game, err := h.games.Create(c.Request().Context(), middleware.GetUserID(c), &req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, game)
}

// Get returns the owner's view of the game
// GET /api/v1/games/:id
func (h *GameHandler) Get(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	game, err := h.games.Get(c.Request().Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, game)
}

// ReplaceConfig swaps the config document
// PUT /api/v1/games/:id/config
func (h *GameHandler) ReplaceConfig(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	body, err := readBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	game, err := h.games.ReplaceConfig(c.Request().Context(), id, middleware.GetUserID(c), body)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, game)
}

// PatchConfig applies a JSON Patch to the config document
// PATCH /api/v1/games/:id/config
func (h *GameHandler) PatchConfig(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}
	body, err := readBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	game, err := h.games.PatchConfig(c.Request().Context(), id, middleware.GetUserID(c), body)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, game)
}

// ReplaceSource sets or clears the generated source
// PUT /api/v1/games/:id/source  {"source": "..."} or {"source": null}
func (h *GameHandler) ReplaceSource(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req struct {
		Source *string `json:"source"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}

	game, err := h.games.ReplaceSource(c.Request().Context(), id, middleware.GetUserID(c), req.Source)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, game)
}

// SetVisibility changes who may play the game
// PUT /api/v1/games/:id/visibility  {"visibility": "public"}
func (h *GameHandler) SetVisibility(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	var req struct {
		Visibility models.Visibility `json:"visibility"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}

	game, err := h.games.SetVisibility(c.Request().Context(), id, middleware.GetUserID(c), req.Visibility)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, game)
}

// readBody reads a raw JSON document from the request
func readBody(c echo.Context) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, gameconfig.MaxDocumentBytes+1))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if !json.Valid(body) {
		return nil, errors.New("request body must be JSON")
	}
	return body, nil
}
