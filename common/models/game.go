package models

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GameStatus represents the lifecycle state of a game
type GameStatus string

const (
	GameStatusDraft     GameStatus = "draft"
	GameStatusBuilding  GameStatus = "building"
	GameStatusBuilt     GameStatus = "built"
	GameStatusPublished GameStatus = "published"
	GameStatusFailed    GameStatus = "failed"
)

// Valid reports whether s is a known game status
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusDraft, GameStatusBuilding, GameStatusBuilt, GameStatusPublished, GameStatusFailed:
		return true
	}
	return false
}

// Settled reports whether a build attempt has finished for the game
func (s GameStatus) Settled() bool {
	return s == GameStatusBuilt || s == GameStatusPublished || s == GameStatusFailed
}

// HasArtifact reports whether the status implies a successful build
func (s GameStatus) HasArtifact() bool {
	return s == GameStatusBuilt || s == GameStatusPublished
}

// Visibility controls who may load a game's artifact
type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

// Valid reports whether v is a known visibility
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityUnlisted || v == VisibilityPublic
}

// Game is a user-authored playable game
type Game struct {
	ID         uuid.UUID       `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Slug       string          `json:"slug"`
	Title      string          `json:"title"`
	Config     json.RawMessage `json:"config"`
	Source     *string         `json:"source,omitempty"`
	Status     GameStatus      `json:"status"`
	Visibility Visibility      `json:"visibility"`
	BundleURL  *string         `json:"bundle_url,omitempty"`
	BundleSize *int64          `json:"bundle_size,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ArtifactPrefix is the storage namespace for the game's bundle
func (g *Game) ArtifactPrefix() string {
	return ArtifactPrefix(g.OwnerID, g.Slug)
}

// CanMakePublic reports whether the game may be switched to public visibility
func (g *Game) CanMakePublic() bool {
	return g.Status.HasArtifact()
}

// ArtifactPrefix builds the storage namespace for an owner/slug pair. The
// owner is escaped into a single path segment so distinct owners never share
// a prefix.
func ArtifactPrefix(ownerID, slug string) string {
	return path.Join(escapeSegment(ownerID), slug)
}

func escapeSegment(s string) string {
	s = url.PathEscape(s)
	switch s {
	case "":
		return "%"
	case ".", "..":
		return strings.ReplaceAll(s, ".", "%2E")
	}
	return s
}

// ValidOwnerID reports whether id is usable as a path segment without escaping
func ValidOwnerID(id string) bool {
	if id == "" || id == "." || id == ".." || len(id) > 255 {
		return false
	}
	return !strings.ContainsAny(id, "/\\?#%") && strings.TrimSpace(id) == id
}
