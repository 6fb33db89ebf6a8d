package compiler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single pygbag run
	DefaultTimeout = 2 * time.Minute

	outputTail = 4 << 10
)

// OutputDir is where pygbag writes the web bundle inside a workspace
func OutputDir(workspace string) string {
	return filepath.Join(workspace, "build", "web")
}

// Pygbag runs `<Bin> <Args...> <workspace>`, by default
// `python3 -m pygbag --build <workspace>`.
type Pygbag struct {
	Bin     string
	Args    []string
	Timeout time.Duration
	Runner  Runner
}

func NewPygbag(bin string, args []string, timeout time.Duration, runner Runner) *Pygbag {
	if bin == "" {
		bin = "python3"
	}
	if len(args) == 0 {
		args = []string{"-m", "pygbag", "--build"}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if runner == nil {
		runner = OSRunner{}
	}
	return &Pygbag{Bin: bin, Args: args, Timeout: timeout, Runner: runner}
}

func (p *Pygbag) Compile(ctx context.Context, dir string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	spec := CommandSpec{
		Name: p.Bin,
		Args: append(append([]string{}, p.Args...), dir),
		Dir:  dir,
	}

	out := newTailBuffer(outputTail)
	start := time.Now()
	code, err := p.Runner.Run(ctx, spec, out, out)
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrTimeout, p.Timeout)
	}
	if err != nil && code < 0 {
		return nil, fmt.Errorf("run %s: %w", p.Bin, err)
	}
	if code != 0 {
		return nil, &ExitError{Code: code, Output: strings.TrimSpace(out.String())}
	}

	outDir := OutputDir(dir)
	if fi, err := os.Stat(filepath.Join(outDir, "index.html")); err != nil || fi.Size() == 0 {
		return nil, ErrNoOutput
	}

	return &Result{OutputDir: outDir, ExitCode: code, Log: out.String(), Duration: elapsed}, nil
}
