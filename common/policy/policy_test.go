package policy

import (
	"encoding/json"
	"testing"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGame() *models.Game {
	src := "print('hi')"
	return &models.Game{
		ID:         uuid.New(),
		OwnerID:    "alice",
		Slug:       "space-dodge",
		Title:      "Space Dodge",
		Config:     json.RawMessage(`{"difficulty":"hard","lives":3}`),
		Source:     &src,
		Status:     models.GameStatusDraft,
		Visibility: models.VisibilityPrivate,
	}
}

func TestEmptyExpressionAllows(t *testing.T) {
	g, err := New("")
	require.NoError(t, err)
	assert.Nil(t, g)
	assert.NoError(t, g.Check(testGame(), "alice"))
	assert.Equal(t, "", g.Expression())
}

func TestCheck(t *testing.T) {
	cases := []struct {
		expr    string
		allowed bool
	}{
		{`game.owner_id == user.id`, true},
		{`user.id == "bob"`, false},
		{`game.has_source && game.config_bytes < 1024`, true},
		{`game.config.difficulty == "easy"`, false},
		{`game.config.lives <= 3.0`, true},
		{`!game.title.contains("Space")`, false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			g, err := New(tc.expr)
			require.NoError(t, err)
			err = g.Check(testGame(), "alice")
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrDenied)
			}
		})
	}
}

func TestNewRejectsBadExpressions(t *testing.T) {
	_, err := New(`game.owner_id ==`)
	assert.Error(t, err)

	_, err = New(`"not a bool"`)
	assert.ErrorContains(t, err, "must return bool")
}

func TestCheckEvaluationError(t *testing.T) {
	g, err := New(`game.config.missing_field == 1`)
	require.NoError(t, err)
	err = g.Check(testGame(), "alice")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDenied)
}
