package handlers

import (
	"net/http"
	"strconv"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/labstack/echo/v4"
)

// BuildHandler handles build lifecycle requests
type BuildHandler struct {
	builds *service.BuildService
	log    *logger.Logger
}

// NewBuildHandler creates a new build handler
func NewBuildHandler(builds *service.BuildService, log *logger.Logger) *BuildHandler {
	return &BuildHandler{builds: builds, log: log}
}

// Enqueue admits a build and returns before it runs
// POST /api/v1/games/:id/build
func (h *BuildHandler) Enqueue(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	resp, err := h.builds.Enqueue(c.Request().Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// Status returns the latest job for the game
// GET /api/v1/games/:id/build
func (h *BuildHandler) Status(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	resp, err := h.builds.Status(c.Request().Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Reset force-fails stuck jobs and returns the game to draft
// POST /api/v1/games/:id/build/reset
func (h *BuildHandler) Reset(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	n, err := h.builds.Reset(c.Request().Context(), id, middleware.GetUserID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"reset": n,
	})
}

// History lists past builds, newest first
// GET /api/v1/games/:id/builds?limit=20
func (h *BuildHandler) History(c echo.Context) error {
	id, err := gameID(c)
	if err != nil {
		return respondError(c, h.log, err)
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	jobs, err := h.builds.History(c.Request().Context(), id, middleware.GetUserID(c), limit)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"builds": jobs,
	})
}
