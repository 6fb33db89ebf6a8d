package pipeline

import (
	"errors"
	"fmt"
)

// Step names a pipeline stage; failures are attributed to one
type Step string

const (
	StepClaim       Step = "claim"
	StepMaterialize Step = "materialize"
	StepCompile     Step = "compile"
	StepUpload      Step = "upload"
	StepReconcile   Step = "reconcile"
)

var (
	// ErrIntegrity means the request does not match a stored job. Nothing is
	// written when it is returned.
	ErrIntegrity = errors.New("build request does not match a stored job")

	// ErrMissingTemplate means the game has no source and the fallback
	// template could not be read
	ErrMissingTemplate = errors.New("fallback template missing")
)

// PipelineError attributes a build failure to the step that raised it
type PipelineError struct {
	Step Step
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func stepError(step Step, err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &PipelineError{Step: step, Err: err}
}
