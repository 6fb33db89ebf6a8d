package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/metrics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/supervisor"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/worker"
	"github.com/labstack/echo/v4"
)

// Submitter starts builds without waiting for them
type Submitter interface {
	TrySubmit(req pipeline.Request) error
	InFlight() int
}

// SweepRunner runs one reconciliation pass
type SweepRunner interface {
	RunOnce(ctx context.Context) (*supervisor.SweepReport, error)
}

// BuildHandler serves the builder's internal API
type BuildHandler struct {
	pool    Submitter
	sweeper SweepRunner
	log     *logger.Logger
}

// NewBuildHandler creates a new build handler
func NewBuildHandler(pool Submitter, sweeper SweepRunner, log *logger.Logger) *BuildHandler {
	return &BuildHandler{pool: pool, sweeper: sweeper, log: log}
}

// Trigger accepts a job and runs it in the background
// POST /internal/builds
func (h *BuildHandler) Trigger(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid_request",
			"message": "invalid request body",
		})
	}
	if err := req.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	}

	if err := h.pool.TrySubmit(req); err != nil {
		if errors.Is(err, worker.ErrBusy) {
			// the job stays pending; the sweep expires it if nobody retries
			h.log.Warn("build rejected, pool full", "job_id", req.JobID, "in_flight", h.pool.InFlight())
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"error":   "busy",
				"message": err.Error(),
			})
		}
		h.log.Error("failed to submit build", "job_id", req.JobID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":   "internal_error",
			"message": "failed to start build",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"job_id": req.JobID,
		"status": "accepted",
	})
}

// Sweep runs one reconciliation pass and returns its report
// POST /internal/sweep
func (h *BuildHandler) Sweep(c echo.Context) error {
	report, err := h.sweeper.RunOnce(c.Request().Context())
	if err != nil {
		h.log.Error("manual sweep failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":   "sweep_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, report)
}

// Health reports the builder's load and host
// GET /health
func (h *BuildHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "kyx-builder",
		"in_flight": h.pool.InFlight(),
		"host":      metrics.Host(),
	})
}
