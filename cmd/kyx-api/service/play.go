package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/cache"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/objstore"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"golang.org/x/net/html"
)

// PlayRoute is the public prefix artifacts are served under
const PlayRoute = "/play"

const entryFile = "index.html"

// ArtifactReader is the slice of the artifact store used for serving
type ArtifactReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Asset is one file of a built bundle, ready to send
type Asset struct {
	Body        []byte
	ContentType string
}

// PlayService serves built bundles addressed by owner and slug
type PlayService struct {
	games     repository.GameRepository
	artifacts ArtifactReader
	cache     cache.Cache
	cacheTTL  time.Duration
	log       *logger.Logger
}

// NewPlayService creates the artifact server. c may be nil.
func NewPlayService(games repository.GameRepository, artifacts ArtifactReader, c cache.Cache, ttl time.Duration, log *logger.Logger) *PlayService {
	return &PlayService{games: games, artifacts: artifacts, cache: c, cacheTTL: ttl, log: log}
}

// Load returns file of the owner/slug bundle. Private games are only visible
// to their owner; everyone else gets ErrGameNotFound.
func (s *PlayService) Load(ctx context.Context, ownerID, slug, file, viewerID string) (*Asset, error) {
	game, err := s.games.GetBySlug(ctx, ownerID, slug)
	if err != nil {
		return nil, err
	}
	if game.Visibility == models.VisibilityPrivate && viewerID != game.OwnerID {
		return nil, models.ErrGameNotFound
	}
	if !game.Status.HasArtifact() {
		return nil, models.ErrGameNotFound
	}

	file = strings.TrimPrefix(path.Clean("/"+file), "/")
	if file == "" {
		file = entryFile
	}
	key := path.Join(game.ArtifactPrefix(), file)
	contentType := objstore.ContentType(key)

	if path.Ext(file) != ".html" {
		body, err := s.artifacts.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return &Asset{Body: body, ContentType: contentType}, nil
	}

	// rewritten html is keyed by the game's last update so a rebuild misses
	cacheKey := "play:" + game.ID.String() + ":" + strconv.FormatInt(game.UpdatedAt.UnixNano(), 10) + ":" + file
	if s.cache != nil {
		if body, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			return &Asset{Body: body, ContentType: contentType}, nil
		}
	}

	raw, err := s.artifacts.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	base := path.Join(PlayRoute, game.ArtifactPrefix(), path.Dir(file))
	body, err := RewriteHTML(raw, base)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite %s: %w", key, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, body, s.cacheTTL); err != nil {
			s.log.Warn("failed to cache entry file", "key", cacheKey, "error", err)
		}
	}
	return &Asset{Body: body, ContentType: contentType}, nil
}

// IsNotFound reports whether err means the asset does not exist for the viewer
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrGameNotFound) || errors.Is(err, objstore.ErrNotFound)
}

// RewriteHTML points relative src and href attributes at base so the
// bundle works when served below a path prefix
func RewriteHTML(doc []byte, base string) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				if attr.Namespace != "" || (attr.Key != "src" && attr.Key != "href") {
					continue
				}
				if rewritten, ok := rebase(attr.Val, base); ok {
					n.Attr[i].Val = rewritten
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rebase(ref, base string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "#") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Path == "" {
		return "", false
	}
	u.Path = path.Join(base, u.Path)
	return u.String(), true
}
