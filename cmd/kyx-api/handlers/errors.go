package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/policy"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// errorJSON writes the standard {"error", "message"} body
func errorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondError maps service errors onto HTTP statuses
func respondError(c echo.Context, log *logger.Logger, err error) error {
	var rle *service.RateLimitError

	switch {
	case errors.Is(err, models.ErrGameNotFound):
		return errorJSON(c, http.StatusNotFound, "game_not_found", "game not found")
	case errors.Is(err, models.ErrJobNotFound):
		return errorJSON(c, http.StatusNotFound, "build_not_found", "no build has been requested for this game")
	case errors.Is(err, models.ErrBuildInProgress):
		return errorJSON(c, http.StatusConflict, "build_in_progress", err.Error())
	case errors.Is(err, models.ErrGameNotBuildable):
		return errorJSON(c, http.StatusConflict, "game_not_draft", "game must be in draft to build; edit it or reset the last build")
	case errors.Is(err, models.ErrSlugTaken):
		return errorJSON(c, http.StatusConflict, "slug_taken", err.Error())
	case errors.As(err, &rle):
		c.Response().Header().Set("Retry-After", strconv.FormatInt(rle.RetryAfterSeconds, 10))
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"error":               "rate_limit_exceeded",
			"message":             rle.Error(),
			"limit":               rle.Limit,
			"current":             rle.CurrentCount,
			"retry_after_seconds": rle.RetryAfterSeconds,
		})
	case errors.Is(err, policy.ErrDenied):
		return errorJSON(c, http.StatusForbidden, "policy_denied", err.Error())
	case service.IsValidation(err):
		return errorJSON(c, http.StatusUnprocessableEntity, "invalid_request", err.Error())
	case errors.Is(err, service.ErrDispatchUnavailable):
		return errorJSON(c, http.StatusServiceUnavailable, "dispatch_unavailable", err.Error())
	}

	log.Error("request failed", "path", c.Path(), "error", err)
	return errorJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
}

// gameID parses the :id path parameter; a malformed id is an unknown game
func gameID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, models.ErrGameNotFound
	}
	return id, nil
}
