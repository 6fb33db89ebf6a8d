// Package compiler turns a materialized game workspace into a browser
// bundle by running the pygbag toolchain.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout means the toolchain did not finish within its deadline
	ErrTimeout = errors.New("compiler timed out")

	// ErrNoOutput means the toolchain exited cleanly but produced no index.html
	ErrNoOutput = errors.New("compiler produced no output")
)

// ExitError carries a non-zero toolchain exit and the tail of its output
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("compiler exited with code %d", e.Code)
	}
	return fmt.Sprintf("compiler exited with code %d: %s", e.Code, e.Output)
}

// Result describes a successful compile
type Result struct {
	OutputDir string
	ExitCode  int
	Log       string
	Duration  time.Duration
}

// Compiler builds the workspace at dir
type Compiler interface {
	Compile(ctx context.Context, dir string) (*Result, error)
}
