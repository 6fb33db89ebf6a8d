// Package objstore stores compiled game bundles in an object store and
// hands out their public URLs.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/config"
)

// ErrNotFound is returned by Get for missing keys
var ErrNotFound = errors.New("object not found")

// driver is the minimal surface each backend implements
type driver interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store wraps a backend with key sanitizing and public URL construction
type Store struct {
	drv           driver
	name          string
	publicBaseURL string
}

// Upload summarizes an UploadDir call
type Upload struct {
	Files int
	Bytes int64
	Keys  []string
}

// Open selects a backend from configuration
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	var (
		drv driver
		err error
	)
	name := strings.ToLower(cfg.Driver)
	switch name {
	case "s3":
		drv, err = openBlob(ctx, buildS3URL(cfg))
	case "file":
		drv, err = openFile(cfg.BaseDir)
	case "mem":
		drv = openMem()
	case "oss":
		drv, err = openOSS(cfg)
	case "cos":
		drv, err = openCOS(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}

	return &Store{drv: drv, name: name, publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/")}, nil
}

// NewMemory returns an in-process store, used by tests and local runs
func NewMemory(publicBaseURL string) *Store {
	return &Store{drv: openMem(), name: "mem", publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

// Validate checks the settings each driver needs
func Validate(c config.StorageConfig) error {
	switch strings.ToLower(c.Driver) {
	case "s3":
		if c.Bucket == "" {
			return errors.New("bucket required for s3 driver")
		}
	case "oss":
		if c.Bucket == "" {
			return errors.New("bucket required for oss driver")
		}
		if c.Endpoint == "" {
			return errors.New("endpoint required for oss driver")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return errors.New("access_key/secret_key required for oss driver")
		}
	case "cos":
		if c.Bucket == "" {
			return errors.New("bucket required for cos driver")
		}
		if c.Region == "" && c.Endpoint == "" {
			return errors.New("region or endpoint required for cos driver")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return errors.New("access_key/secret_key required for cos driver")
		}
	case "file":
		if c.BaseDir == "" {
			return errors.New("base_dir required for file driver")
		}
	case "mem":
	case "":
		return errors.New("STORAGE_DRIVER not set")
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Driver)
	}
	return nil
}

// Driver reports the backend name
func (s *Store) Driver() string { return s.name }

// Put writes one object. Writing the same key twice overwrites it.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	key = sanitizeKey(key)
	if key == "" {
		return errors.New("empty object key")
	}
	if contentType == "" {
		contentType = ContentType(key)
	}
	return s.drv.Put(ctx, key, r, size, contentType)
}

// Get reads one object, ErrNotFound when missing
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	return s.drv.Get(ctx, sanitizeKey(key))
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.drv.Delete(ctx, sanitizeKey(key))
}

func (s *Store) Close() error {
	return s.drv.Close()
}

// PublicURL returns the address clients use to load key
func (s *Store) PublicURL(key string) string {
	key = sanitizeKey(key)
	if key == "" {
		return s.publicBaseURL
	}
	return s.publicBaseURL + "/" + key
}

// UploadDir copies every regular file under dir to prefix/<relative path>.
// Keys are deterministic so a retried upload overwrites the same objects.
func (s *Store) UploadDir(ctx context.Context, dir, prefix string) (*Upload, error) {
	out := &Upload{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))

		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := s.Put(ctx, key, bytes.NewReader(body), int64(len(body)), ""); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}

		out.Files++
		out.Bytes += int64(len(body))
		out.Keys = append(out.Keys, sanitizeKey(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".wasm": "application/wasm",
	".apk":  "application/vnd.android.package-archive",
	".data": "application/octet-stream",
	".tar":  "application/x-tar",
	".json": "application/json",
	".png":  "image/png",
	".ico":  "image/x-icon",
}

// ContentType guesses the MIME type from the key's extension
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// sanitizeKey prevents path traversal.
func sanitizeKey(key string) string {
	key = filepath.ToSlash(key)
	key = strings.TrimLeft(key, "/")
	parts := strings.Split(key, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// buildS3URL constructs a gocloud s3 URL with query params.
func buildS3URL(c config.StorageConfig) string {
	u := url.URL{Scheme: "s3", Host: c.Bucket}
	q := url.Values{}
	if c.Region != "" {
		q.Set("region", c.Region)
	}
	if c.Endpoint != "" {
		q.Set("endpoint", c.Endpoint)
	}
	if c.ForcePathStyle {
		q.Set("s3ForcePathStyle", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
