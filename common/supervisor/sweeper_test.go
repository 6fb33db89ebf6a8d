package supervisor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/db"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	holder   string
	released []string

	// stolen hands the lock to another replica while a pass runs
	stolen bool
}

func (l *fakeLocker) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != "" {
		return false, nil
	}
	l.holder = value
	if l.stolen {
		l.holder = "other-replica"
	}
	return true, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, key, value string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder != value {
		return false, nil
	}
	l.holder = ""
	l.released = append(l.released, key)
	return true, nil
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

func seedGame(t *testing.T, repos *repository.Repositories, status models.GameStatus, bundle bool) *models.Game {
	t.Helper()
	now := time.Now().UTC()
	g := &models.Game{
		ID:         uuid.New(),
		OwnerID:    "alice",
		Slug:       "g-" + uuid.NewString()[:8],
		Config:     json.RawMessage(`{}`),
		Status:     status,
		Visibility: models.VisibilityPrivate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if bundle {
		url, size := "http://x/alice/"+g.Slug+"/index.html", int64(5)
		g.BundleURL, g.BundleSize = &url, &size
	}
	require.NoError(t, repos.Games.Create(context.Background(), g))
	return g
}

func seedJob(t *testing.T, repos *repository.Repositories, game *models.Game, createdAt time.Time) *models.BuildJob {
	t.Helper()
	j := &models.BuildJob{ID: uuid.New(), GameID: game.ID, OwnerID: game.OwnerID, Status: models.JobStatusPending, CreatedAt: createdAt}
	require.NoError(t, repos.Jobs.Create(context.Background(), j))
	return j
}

func newSweeper(repos *repository.Repositories) *Sweeper {
	return NewSweeper(repos, logger.Discard()).WithTimeouts(10*time.Minute, 5*time.Minute)
}

func gameStatus(t *testing.T, repos *repository.Repositories, id uuid.UUID) models.GameStatus {
	t.Helper()
	g, err := repos.Games.GetByID(context.Background(), id)
	require.NoError(t, err)
	return g.Status
}

func jobOf(t *testing.T, repos *repository.Repositories, id uuid.UUID) *models.BuildJob {
	t.Helper()
	j, err := repos.Jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestRunOnce_ExpiresStaleJobs(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	now := time.Now().UTC()

	strandedGame := seedGame(t, repos, models.GameStatusBuilding, false)
	stranded := seedJob(t, repos, strandedGame, now.Add(-time.Hour))

	crashedGame := seedGame(t, repos, models.GameStatusBuilding, false)
	crashed := seedJob(t, repos, crashedGame, now.Add(-time.Hour))
	require.NoError(t, repos.Jobs.Claim(ctx, crashed.ID, now.Add(-20*time.Minute)))

	liveGame := seedGame(t, repos, models.GameStatusBuilding, false)
	live := seedJob(t, repos, liveGame, now.Add(-time.Hour))
	require.NoError(t, repos.Jobs.Claim(ctx, live.ID, now.Add(-time.Minute)))

	rec := &events.Recorder{}
	report, err := newSweeper(repos).WithEvents(rec).RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.ExpiredPending)
	assert.Equal(t, 1, report.ExpiredProcessing)

	j := jobOf(t, repos, stranded.ID)
	assert.Equal(t, models.JobStatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, MessagePendingExpired, *j.Error)
	assert.Equal(t, models.GameStatusFailed, gameStatus(t, repos, strandedGame.ID))

	j = jobOf(t, repos, crashed.ID)
	assert.Equal(t, models.JobStatusFailed, j.Status)
	assert.Equal(t, MessageProcessingExpired, *j.Error)
	assert.Equal(t, models.GameStatusFailed, gameStatus(t, repos, crashedGame.ID))

	assert.Equal(t, models.JobStatusProcessing, jobOf(t, repos, live.ID).Status)
	assert.Equal(t, models.GameStatusBuilding, gameStatus(t, repos, liveGame.ID))

	assert.Equal(t, []events.Type{events.TypeFailed, events.TypeFailed}, rec.Types())
}

func TestRunOnce_SettlesStuckGames(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	now := time.Now().UTC()

	// dual-write gap: job failed, game never followed
	failedGame := seedGame(t, repos, models.GameStatusBuilding, false)
	failedJob := seedJob(t, repos, failedGame, now)
	require.NoError(t, repos.Jobs.Fail(ctx, failedJob.ID, "compile: exit 1", now))

	// building with no job at all
	orphan := seedGame(t, repos, models.GameStatusBuilding, false)

	// bundle recorded and job completed
	builtGame := seedGame(t, repos, models.GameStatusBuilding, true)
	builtJob := seedJob(t, repos, builtGame, now)
	require.NoError(t, repos.Jobs.Claim(ctx, builtJob.ID, now))
	require.NoError(t, repos.Jobs.Complete(ctx, builtJob.ID, now))

	// untouched: active job
	active := seedGame(t, repos, models.GameStatusBuilding, false)
	seedJob(t, repos, active, now)

	report, err := newSweeper(repos).RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.GamesFailed)
	assert.Equal(t, 1, report.GamesReset)
	assert.Equal(t, 1, report.GamesBuilt)

	assert.Equal(t, models.GameStatusFailed, gameStatus(t, repos, failedGame.ID))
	assert.Equal(t, models.GameStatusDraft, gameStatus(t, repos, orphan.ID))
	assert.Equal(t, models.GameStatusBuilt, gameStatus(t, repos, builtGame.ID))
	assert.Equal(t, models.GameStatusBuilding, gameStatus(t, repos, active.ID))

	// second pass has nothing to do
	report, err = newSweeper(repos).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, *report)
}

func TestRunOnce_Lock(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	game := seedGame(t, repos, models.GameStatusBuilding, false)

	locker := &fakeLocker{holder: "other-replica"}
	report, err := newSweeper(repos).WithLocker(locker).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, models.GameStatusBuilding, gameStatus(t, repos, game.ID))

	locker.holder = ""
	report, err = newSweeper(repos).WithLocker(locker).RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.GamesReset)
	assert.Empty(t, locker.holder, "lock released")
	assert.Equal(t, []string{defaultLockKey}, locker.released)
}

func TestRunOnce_KeepsLockTakenOverByAnotherReplica(t *testing.T) {
	repos := newRepos(t)
	locker := &fakeLocker{stolen: true}

	report, err := newSweeper(repos).WithLocker(locker).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, "other-replica", locker.holder)
	assert.Empty(t, locker.released)
}

func TestRunOnce_CompletesJobWhoseGameIsBuilt(t *testing.T) {
	ctx := context.Background()
	repos := newRepos(t)
	now := time.Now().UTC()

	game := seedGame(t, repos, models.GameStatusBuilding, false)
	job := seedJob(t, repos, game, now.Add(-time.Hour))
	require.NoError(t, repos.Jobs.Claim(ctx, job.ID, now.Add(-20*time.Minute)))
	url := "http://x/alice/" + game.Slug + "/index.html"
	require.NoError(t, repos.Games.MarkBuilt(ctx, game.ID, job.ID, url, 42))

	rec := &events.Recorder{}
	report, err := newSweeper(repos).WithEvents(rec).RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.JobsCompleted)
	assert.Zero(t, report.ExpiredProcessing)

	j := jobOf(t, repos, job.ID)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Nil(t, j.Error)
	require.NotNil(t, j.CompletedAt)
	assert.Equal(t, models.GameStatusBuilt, gameStatus(t, repos, game.ID))
	assert.Equal(t, []events.Type{events.TypeCompleted}, rec.Types())

	report, err = newSweeper(repos).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, *report)
}

func TestStart_StopsOnCancel(t *testing.T) {
	repos := newRepos(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- newSweeper(repos).WithCheckInterval(10 * time.Millisecond).Start(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
