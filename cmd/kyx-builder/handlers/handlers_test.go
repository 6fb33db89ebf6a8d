package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/supervisor"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/worker"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

type fakePool struct {
	submitted []pipeline.Request
	err       error
}

func (p *fakePool) TrySubmit(req pipeline.Request) error {
	if p.err != nil {
		return p.err
	}
	p.submitted = append(p.submitted, req)
	return nil
}

func (p *fakePool) InFlight() int { return len(p.submitted) }

type fakeSweeper struct {
	report *supervisor.SweepReport
	err    error
}

func (s *fakeSweeper) RunOnce(context.Context) (*supervisor.SweepReport, error) {
	return s.report, s.err
}

func newEcho(h *BuildHandler) *echo.Echo {
	e := echo.New()
	e.GET("/health", h.Health)
	internal := e.Group("/internal")
	internal.Use(middleware.RequireBuildSecret(secret))
	internal.POST("/builds", h.Trigger)
	internal.POST("/sweep", h.Sweep)
	return e
}

func post(e *echo.Echo, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(middleware.BuildSecretHeader, key)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTrigger(t *testing.T) {
	jobID, gameID := uuid.New(), uuid.New()
	body := `{"job_id":"` + jobID.String() + `","game_id":"` + gameID.String() + `","config":{"difficulty":"easy"}}`

	t.Run("accepted", func(t *testing.T) {
		pool := &fakePool{}
		e := newEcho(NewBuildHandler(pool, &fakeSweeper{}, logger.Discard()))

		rec := post(e, "/internal/builds", secret, body)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Len(t, pool.submitted, 1)
		assert.Equal(t, jobID, pool.submitted[0].JobID)
		assert.Equal(t, gameID, pool.submitted[0].GameID)
		assert.JSONEq(t, `{"difficulty":"easy"}`, string(pool.submitted[0].Config))
	})

	t.Run("wrong secret", func(t *testing.T) {
		pool := &fakePool{}
		e := newEcho(NewBuildHandler(pool, &fakeSweeper{}, logger.Discard()))

		assert.Equal(t, http.StatusUnauthorized, post(e, "/internal/builds", "nope", body).Code)
		assert.Equal(t, http.StatusUnauthorized, post(e, "/internal/builds", "", body).Code)
		assert.Empty(t, pool.submitted)
	})

	t.Run("missing ids", func(t *testing.T) {
		pool := &fakePool{}
		e := newEcho(NewBuildHandler(pool, &fakeSweeper{}, logger.Discard()))

		rec := post(e, "/internal/builds", secret, `{"game_id":"`+gameID.String()+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "job_id")

		assert.Equal(t, http.StatusBadRequest, post(e, "/internal/builds", secret, `{not json`).Code)
		assert.Empty(t, pool.submitted)
	})

	t.Run("busy", func(t *testing.T) {
		e := newEcho(NewBuildHandler(&fakePool{err: worker.ErrBusy}, &fakeSweeper{}, logger.Discard()))
		assert.Equal(t, http.StatusServiceUnavailable, post(e, "/internal/builds", secret, body).Code)
	})

	t.Run("other submit errors", func(t *testing.T) {
		e := newEcho(NewBuildHandler(&fakePool{err: errors.New("boom")}, &fakeSweeper{}, logger.Discard()))
		assert.Equal(t, http.StatusInternalServerError, post(e, "/internal/builds", secret, body).Code)
	})
}

func TestSweep(t *testing.T) {
	report := &supervisor.SweepReport{ExpiredPending: 2, GamesFailed: 1}
	e := newEcho(NewBuildHandler(&fakePool{}, &fakeSweeper{report: report}, logger.Discard()))

	rec := post(e, "/internal/sweep", secret, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got supervisor.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.ExpiredPending)
	assert.Equal(t, 1, got.GamesFailed)

	e = newEcho(NewBuildHandler(&fakePool{}, &fakeSweeper{err: errors.New("db down")}, logger.Discard()))
	assert.Equal(t, http.StatusInternalServerError, post(e, "/internal/sweep", secret, "").Code)
}

func TestHealth(t *testing.T) {
	e := newEcho(NewBuildHandler(&fakePool{}, &fakeSweeper{}, logger.Discard()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "host")
}
