package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())

	assert.True(t, JobStatusPending.IsActive())
	assert.True(t, JobStatusProcessing.IsActive())
	assert.False(t, JobStatusFailed.IsActive())
}

func TestValidateJobTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
	}
	for _, tc := range cases {
		err := ValidateJobTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.True(t, errors.Is(err, ErrInvalidTransition), "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestGameCanMakePublic(t *testing.T) {
	g := &Game{Status: GameStatusDraft}
	assert.False(t, g.CanMakePublic())
	g.Status = GameStatusBuilt
	assert.True(t, g.CanMakePublic())
	g.Status = GameStatusPublished
	assert.True(t, g.CanMakePublic())
	g.Status = GameStatusFailed
	assert.False(t, g.CanMakePublic())
}

func TestArtifactPrefix(t *testing.T) {
	g := &Game{OwnerID: "alice", Slug: "space-dodge"}
	assert.Equal(t, "alice/space-dodge", g.ArtifactPrefix())

	owners := []string{"alice", "../alice", "alice/..", "..", ".", "", "%2E%2E", "%", "a/b", "a%2Fb"}
	seen := map[string]string{}
	for _, owner := range owners {
		prefix := ArtifactPrefix(owner, "space-dodge")
		prev, dup := seen[prefix]
		assert.False(t, dup, "%q and %q share prefix %q", owner, prev, prefix)
		seen[prefix] = owner
		assert.Equal(t, 2, len(strings.Split(prefix, "/")), prefix)
	}
}

func TestValidOwnerID(t *testing.T) {
	for _, id := range []string{"alice", "user_42", "6f1c2a", "bob@example.com"} {
		assert.True(t, ValidOwnerID(id), id)
	}
	for _, id := range []string{"", ".", "..", "../alice", "a/b", `a\b`, "a%2Fb", " alice", "a?b"} {
		assert.False(t, ValidOwnerID(id), id)
	}
}

func TestBuildJobDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	j := &BuildJob{StartedAt: &start}
	assert.Zero(t, j.Duration())
	j.CompletedAt = &end
	assert.Equal(t, 90*time.Second, j.Duration())
}
