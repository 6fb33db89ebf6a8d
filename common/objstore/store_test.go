package objstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice/space-run/index.html", "alice/space-run/index.html"},
		{"/alice//space-run/", "alice/space-run"},
		{"../../etc/passwd", "etc/passwd"},
		{"alice/./x/../y", "alice/x/y"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeKey(tt.in), tt.in)
	}
}

func TestBuildS3URL(t *testing.T) {
	u := buildS3URL(config.StorageConfig{
		Bucket:         "kyx-games",
		Region:         "us-east-1",
		Endpoint:       "http://minio:9000",
		ForcePathStyle: true,
	})
	assert.Equal(t, "s3://kyx-games?endpoint=http%3A%2F%2Fminio%3A9000&region=us-east-1&s3ForcePathStyle=true", u)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(config.StorageConfig{Driver: "mem"}))
	assert.NoError(t, Validate(config.StorageConfig{Driver: "file", BaseDir: "/tmp/x"}))
	assert.Error(t, Validate(config.StorageConfig{Driver: ""}))
	assert.Error(t, Validate(config.StorageConfig{Driver: "s3"}))
	assert.Error(t, Validate(config.StorageConfig{Driver: "oss", Bucket: "b"}))
	assert.Error(t, Validate(config.StorageConfig{Driver: "cos", Bucket: "b", Region: "ap-guangzhou"}))
	assert.Error(t, Validate(config.StorageConfig{Driver: "ftp"}))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/html; charset=utf-8", ContentType("a/b/index.html"))
	assert.Equal(t, "application/wasm", ContentType("python.wasm"))
	assert.Equal(t, "application/vnd.android.package-archive", ContentType("game.APK"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("http://localhost:8080/play/")
	defer s.Close()

	require.NoError(t, s.Put(ctx, "/alice/game/index.html", bytes.NewReader([]byte("<html>")), 6, ""))

	body, err := s.Get(ctx, "alice/game/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(body))

	_, err = s.Get(ctx, "alice/game/missing.js")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "alice/game/index.html"))
	_, err = s.Get(ctx, "alice/game/index.html")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Put(ctx, "../", bytes.NewReader(nil), 0, ""))
}

func TestPublicURL(t *testing.T) {
	s := NewMemory("https://cdn.example.com/play/")
	assert.Equal(t, "https://cdn.example.com/play/alice/game", s.PublicURL("alice/game"))
	assert.Equal(t, "https://cdn.example.com/play", s.PublicURL(""))
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func TestUploadDir(t *testing.T) {
	ctx := context.Background()
	s := NewMemory("http://localhost/play")
	dir := writeTree(t, map[string]string{
		"index.html":        "<html></html>",
		"game.apk":          "apkdata",
		"assets/sprite.png": "png",
	})

	up, err := s.UploadDir(ctx, dir, "alice/space-run")
	require.NoError(t, err)
	assert.Equal(t, 3, up.Files)
	assert.Equal(t, int64(len("<html></html>")+len("apkdata")+len("png")), up.Bytes)

	sort.Strings(up.Keys)
	assert.Equal(t, []string{
		"alice/space-run/assets/sprite.png",
		"alice/space-run/game.apk",
		"alice/space-run/index.html",
	}, up.Keys)

	// retried upload overwrites the same keys
	again, err := s.UploadDir(ctx, dir, "alice/space-run")
	require.NoError(t, err)
	assert.Equal(t, up.Bytes, again.Bytes)

	body, err := s.Get(ctx, "alice/space-run/assets/sprite.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(body))
}

func TestUploadDir_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemory("http://localhost/play")
	dir := writeTree(t, map[string]string{"index.html": "x"})

	_, err := s.UploadDir(ctx, dir, "a/b")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_FileDriver(t *testing.T) {
	ctx := context.Background()
	base := filepath.Join(t.TempDir(), "artifacts")
	s, err := Open(ctx, config.StorageConfig{Driver: "file", BaseDir: base, PublicBaseURL: "http://x/play"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "file", s.Driver())

	require.NoError(t, s.Put(ctx, "bob/maze/index.html", bytes.NewReader([]byte("hi")), 2, ""))
	body, err := s.Get(ctx, "bob/maze/index.html")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(body))

	_, err = os.Stat(filepath.Join(base, "bob", "maze", "index.html"))
	assert.NoError(t, err)

	_, err = s.Get(ctx, "bob/maze/nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
