package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/db"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/gameconfig"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/policy"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/ratelimit"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "alice"

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []*pipeline.Request
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req *pipeline.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, req)
	return d.err
}

func (d *fakeDispatcher) Mode() string { return "fake" }

func (d *fakeDispatcher) requests() []*pipeline.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*pipeline.Request(nil), d.reqs...)
}

func newRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	gdb, err := db.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, repository.MigrateGorm(context.Background(), gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewGorm(gdb)
}

type buildFixture struct {
	repos      *repository.Repositories
	dispatcher *fakeDispatcher
	events     *events.Recorder
	games      *GameService
}

func newBuildFixture(t *testing.T) *buildFixture {
	repos := newRepos(t)
	return &buildFixture{
		repos:      repos,
		dispatcher: &fakeDispatcher{},
		events:     &events.Recorder{},
		games:      NewGameService(repos.Games, logger.Discard()),
	}
}

func (f *buildFixture) service(mutate ...func(*BuildServiceOpts)) *BuildService {
	opts := &BuildServiceOpts{
		Repos:      f.repos,
		Dispatcher: f.dispatcher,
		Counter:    ratelimit.NewMemoryLimiter(),
		Events:     f.events,
		Logger:     logger.Discard(),
		RateLimit:  100,
		RateWindow: time.Hour,
	}
	for _, m := range mutate {
		m(opts)
	}
	return NewBuildService(opts)
}

func (f *buildFixture) createGame(t *testing.T, slug string) *models.Game {
	t.Helper()
	source := "print('hi')"
	game, err := f.games.Create(context.Background(), owner, &CreateGameRequest{
		Slug:   slug,
		Title:  "Test " + slug,
		Config: json.RawMessage(`{"difficulty":"easy"}`),
		Source: &source,
	})
	require.NoError(t, err)
	return game
}

func (f *buildFixture) gameStatus(t *testing.T, id uuid.UUID) models.GameStatus {
	t.Helper()
	g, err := f.repos.Games.GetByID(context.Background(), id)
	require.NoError(t, err)
	return g.Status
}

func waitDispatches(t *testing.T, svc *BuildService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitDispatches(ctx))
}

func TestEnqueue_Success(t *testing.T) {
	f := newBuildFixture(t)
	svc := f.service()
	game := f.createGame(t, "first")

	resp, err := svc.Enqueue(context.Background(), game.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, game.ID, resp.GameID)

	assert.Equal(t, models.GameStatusBuilding, f.gameStatus(t, game.ID))

	job, err := f.repos.Jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, owner, job.OwnerID)

	waitDispatches(t, svc)
	reqs := f.dispatcher.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, resp.JobID, reqs[0].JobID)
	assert.JSONEq(t, `{"difficulty":"easy"}`, string(reqs[0].Config))
	require.NotNil(t, reqs[0].Source)
	assert.Equal(t, "print('hi')", *reqs[0].Source)

	assert.Equal(t, []events.Type{events.TypeQueued}, f.events.Types())
}

func TestEnqueue_SingleFlight(t *testing.T) {
	f := newBuildFixture(t)
	svc := f.service()
	game := f.createGame(t, "single")

	_, err := svc.Enqueue(context.Background(), game.ID, owner)
	require.NoError(t, err)

	_, err = svc.Enqueue(context.Background(), game.ID, owner)
	assert.ErrorIs(t, err, models.ErrBuildInProgress)

	jobs, err := svc.History(context.Background(), game.ID, owner, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestEnqueue_Rejections(t *testing.T) {
	t.Run("no dispatcher", func(t *testing.T) {
		f := newBuildFixture(t)
		svc := f.service(func(o *BuildServiceOpts) { o.Dispatcher = nil })
		game := f.createGame(t, "nodispatch")

		_, err := svc.Enqueue(context.Background(), game.ID, owner)
		assert.ErrorIs(t, err, ErrDispatchUnavailable)
		assert.Equal(t, models.GameStatusDraft, f.gameStatus(t, game.ID))
	})

	t.Run("not owner", func(t *testing.T) {
		f := newBuildFixture(t)
		svc := f.service()
		game := f.createGame(t, "foreign")

		_, err := svc.Enqueue(context.Background(), game.ID, "mallory")
		assert.ErrorIs(t, err, models.ErrGameNotFound)
	})

	t.Run("unknown game", func(t *testing.T) {
		f := newBuildFixture(t)
		_, err := f.service().Enqueue(context.Background(), uuid.New(), owner)
		assert.ErrorIs(t, err, models.ErrGameNotFound)
	})

	t.Run("not draft", func(t *testing.T) {
		f := newBuildFixture(t)
		svc := f.service()
		game := f.createGame(t, "failed")
		_, err := svc.Enqueue(context.Background(), game.ID, owner)
		require.NoError(t, err)
		_, err = f.repos.Jobs.FailActiveForGame(context.Background(), game.ID, "boom", time.Now().UTC())
		require.NoError(t, err)
		_, err = f.repos.Games.SettleBuilding(context.Background(), game.ID, models.GameStatusFailed)
		require.NoError(t, err)

		_, err = svc.Enqueue(context.Background(), game.ID, owner)
		assert.ErrorIs(t, err, models.ErrGameNotBuildable)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newBuildFixture(t)
		svc := f.service(func(o *BuildServiceOpts) { o.RateLimit = 1 })
		game := f.createGame(t, "limited")

		_, err := svc.Enqueue(context.Background(), game.ID, owner)
		require.NoError(t, err)
		_, err = svc.Reset(context.Background(), game.ID, owner)
		require.NoError(t, err)

		_, err = svc.Enqueue(context.Background(), game.ID, owner)
		var rle *RateLimitError
		require.True(t, errors.As(err, &rle))
		assert.Equal(t, int64(1), rle.Limit)
		assert.Positive(t, rle.RetryAfterSeconds)
		assert.Equal(t, models.GameStatusDraft, f.gameStatus(t, game.ID))
	})

	t.Run("policy", func(t *testing.T) {
		f := newBuildFixture(t)
		gate, err := policy.New(`game.slug != "blocked"`)
		require.NoError(t, err)
		svc := f.service(func(o *BuildServiceOpts) { o.Gate = gate })
		game := f.createGame(t, "blocked")

		_, err = svc.Enqueue(context.Background(), game.ID, owner)
		assert.ErrorIs(t, err, policy.ErrDenied)

		jobs, err := svc.History(context.Background(), game.ID, owner, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestEnqueue_DispatchFailureKeepsJobPending(t *testing.T) {
	f := newBuildFixture(t)
	f.dispatcher.err = errors.New("connection refused")
	svc := f.service()
	game := f.createGame(t, "unreachable")

	resp, err := svc.Enqueue(context.Background(), game.ID, owner)
	require.NoError(t, err)
	waitDispatches(t, svc)

	job, err := f.repos.Jobs.GetByID(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.GameStatusBuilding, f.gameStatus(t, game.ID))
	assert.Equal(t, []events.Type{events.TypeQueued, events.TypeDispatchFailed}, f.events.Types())
}

func TestStatus(t *testing.T) {
	f := newBuildFixture(t)
	svc := f.service()
	game := f.createGame(t, "status")

	_, err := svc.Status(context.Background(), game.ID, owner)
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	resp, err := svc.Enqueue(context.Background(), game.ID, owner)
	require.NoError(t, err)

	st, err := svc.Status(context.Background(), game.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, st.Job.ID)
	assert.Equal(t, models.GameStatusBuilding, st.GameStatus)
	assert.Nil(t, st.BundleURL)

	_, err = svc.Status(context.Background(), game.ID, "mallory")
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}

// enqueue, conflict, fail, reset, enqueue again
func TestBuildLifecycleScenario(t *testing.T) {
	f := newBuildFixture(t)
	svc := f.service()
	ctx := context.Background()
	game := f.createGame(t, "scenario")

	first, err := svc.Enqueue(ctx, game.ID, owner)
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, game.ID, owner)
	require.ErrorIs(t, err, models.ErrBuildInProgress)

	require.NoError(t, f.repos.Jobs.Claim(ctx, first.JobID, time.Now().UTC()))
	require.NoError(t, f.repos.Jobs.Fail(ctx, first.JobID, "compile: exit 1", time.Now().UTC()))
	_, err = f.repos.Games.SettleBuilding(ctx, game.ID, models.GameStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusFailed, f.gameStatus(t, game.ID))

	n, err := svc.Reset(ctx, game.ID, owner)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.GameStatusDraft, f.gameStatus(t, game.ID))

	second, err := svc.Enqueue(ctx, game.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)

	jobs, err := svc.History(ctx, game.ID, owner, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.JobID, jobs[0].ID)
}

func TestReset_FailsActiveJobs(t *testing.T) {
	f := newBuildFixture(t)
	svc := f.service()
	ctx := context.Background()
	game := f.createGame(t, "stuck")

	resp, err := svc.Enqueue(ctx, game.ID, owner)
	require.NoError(t, err)
	require.NoError(t, f.repos.Jobs.Claim(ctx, resp.JobID, time.Now().UTC()))

	n, err := svc.Reset(ctx, game.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := f.repos.Jobs.GetByID(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ResetMessage, *job.Error)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, models.GameStatusDraft, f.gameStatus(t, game.ID))

	// idempotent
	n, err = svc.Reset(ctx, game.ID, owner)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.Reset(ctx, game.ID, "mallory")
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}

func TestGameService_Content(t *testing.T) {
	f := newBuildFixture(t)
	ctx := context.Background()

	t.Run("create validates", func(t *testing.T) {
		_, err := f.games.Create(ctx, owner, &CreateGameRequest{Slug: "Bad Slug!"})
		assert.True(t, IsValidation(err))

		_, err = f.games.Create(ctx, owner, &CreateGameRequest{Slug: "ok", Config: json.RawMessage(`{"difficulty":"brutal"}`)})
		assert.ErrorIs(t, err, gameconfig.ErrInvalid)
	})

	t.Run("duplicate slug", func(t *testing.T) {
		f.createGame(t, "dupe")
		_, err := f.games.Create(ctx, owner, &CreateGameRequest{Slug: "dupe"})
		assert.ErrorIs(t, err, models.ErrSlugTaken)
	})

	t.Run("patch config", func(t *testing.T) {
		game := f.createGame(t, "patched")
		updated, err := f.games.PatchConfig(ctx, game.ID, owner,
			json.RawMessage(`[{"op":"add","path":"/player","value":{"lives":3}}]`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"difficulty":"easy","player":{"lives":3}}`, string(updated.Config))
		assert.Equal(t, models.GameStatusDraft, updated.Status)

		_, err = f.games.PatchConfig(ctx, game.ID, owner,
			json.RawMessage(`[{"op":"replace","path":"/player/lives","value":0}]`))
		assert.True(t, IsValidation(err))
	})

	t.Run("edit while building", func(t *testing.T) {
		game := f.createGame(t, "busy")
		_, err := f.service().Enqueue(ctx, game.ID, owner)
		require.NoError(t, err)

		_, err = f.games.ReplaceConfig(ctx, game.ID, owner, json.RawMessage(`{}`))
		assert.ErrorIs(t, err, models.ErrBuildInProgress)
	})

	t.Run("edit resets built game", func(t *testing.T) {
		game := f.createGame(t, "rebuilt")
		svc := f.service()
		resp, err := svc.Enqueue(ctx, game.ID, owner)
		require.NoError(t, err)
		require.NoError(t, f.repos.Jobs.Claim(ctx, resp.JobID, time.Now().UTC()))
		require.NoError(t, f.repos.Games.MarkBuilt(ctx, game.ID, resp.JobID, "http://x/index.html", 42))
		require.NoError(t, f.repos.Jobs.Complete(ctx, resp.JobID, time.Now().UTC()))

		updated, err := f.games.ReplaceSource(ctx, game.ID, owner, nil)
		require.NoError(t, err)
		assert.Equal(t, models.GameStatusDraft, updated.Status)
		assert.Nil(t, updated.Source)
		assert.Nil(t, updated.BundleURL)
		assert.Nil(t, updated.BundleSize)
	})

	t.Run("visibility", func(t *testing.T) {
		game := f.createGame(t, "visible")

		_, err := f.games.SetVisibility(ctx, game.ID, owner, models.VisibilityPublic)
		assert.ErrorIs(t, err, models.ErrVisibilityNotAllowed)
		assert.True(t, IsValidation(err))

		updated, err := f.games.SetVisibility(ctx, game.ID, owner, models.VisibilityUnlisted)
		require.NoError(t, err)
		assert.Equal(t, models.VisibilityUnlisted, updated.Visibility)

		_, err = f.games.SetVisibility(ctx, game.ID, owner, models.Visibility("secret"))
		assert.True(t, IsValidation(err))
	})
}
