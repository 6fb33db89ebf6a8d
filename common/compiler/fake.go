package compiler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fake is intended for tests and local dry-runs. It writes a minimal
// bundle without invoking any toolchain.
type Fake struct {
	mu    sync.Mutex
	Calls []string

	Err     error
	BlockCh <-chan struct{}
	Files   map[string]string
}

func (f *Fake) Compile(ctx context.Context, dir string) (*Result, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, dir)
	f.mu.Unlock()

	if f.BlockCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.BlockCh:
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}

	files := f.Files
	if len(files) == 0 {
		files = map[string]string{
			"index.html": "<html><body><script src=\"game.apk\"></script></body></html>",
			"game.apk":   "fake-bundle",
		}
	}

	outDir := OutputDir(dir)
	for name, body := range files {
		p := filepath.Join(outDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return nil, err
		}
	}
	return &Result{OutputDir: outDir, Log: "fake build\n", Duration: time.Millisecond}, nil
}

// CallCount is safe to call while builds run
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
