// Package pipeline runs one build job from claim to a terminal status:
// claim, materialize the workspace, compile, upload, then reconcile the
// job and game rows. The workspace is removed on every exit path.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/analytics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/compiler"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/metrics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/models"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/objstore"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	sourceFile = "main.py"
	configFile = "config.json"
	entryFile  = "index.html"

	// reconcileTimeout bounds the final status writes, which run even after
	// the caller's context is gone
	reconcileTimeout = 30 * time.Second
)

// Request is the build-service invocation payload
type Request struct {
	JobID  uuid.UUID       `json:"job_id"`
	GameID uuid.UUID       `json:"game_id"`
	Config json.RawMessage `json:"config"`
	Source *string         `json:"source,omitempty"`
}

// Validate checks the fields the orchestrator needs
func (r *Request) Validate() error {
	if r.JobID == uuid.Nil {
		return errors.New("job_id is required")
	}
	if r.GameID == uuid.Nil {
		return errors.New("game_id is required")
	}
	if len(r.Config) > 0 && !json.Valid(r.Config) {
		return errors.New("config must be valid JSON")
	}
	return nil
}

// Artifacts is the slice of the artifact store the pipeline uses
type Artifacts interface {
	UploadDir(ctx context.Context, dir, prefix string) (*objstore.Upload, error)
	PublicURL(key string) string
}

// Result reports how a run ended
type Result struct {
	JobID       uuid.UUID
	Status      models.JobStatus
	BundleURL   string
	BundleBytes int64
	// Superseded is set when the job was reset while it ran
	Superseded bool
	Err        *PipelineError
	Duration   time.Duration
}

// Orchestrator executes build jobs. Safe for concurrent use across
// different jobs.
type Orchestrator struct {
	games     repository.GameRepository
	jobs      repository.JobRepository
	compiler  compiler.Compiler
	artifacts Artifacts
	log       *logger.Logger

	fallbackTemplate string
	workRoot         string

	events    events.Publisher
	metrics   *metrics.BuildMetrics
	analytics analytics.Sink
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Orchestrator)

func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithMetrics(m *metrics.BuildMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithAnalytics(s analytics.Sink) Option {
	return func(o *Orchestrator) { o.analytics = s }
}

// WithWorkRoot sets the parent directory for scratch workspaces
func WithWorkRoot(dir string) Option {
	return func(o *Orchestrator) { o.workRoot = dir }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. fallbackTemplate is read whenever a request
// carries no source.
func New(
	repos *repository.Repositories,
	comp compiler.Compiler,
	artifacts Artifacts,
	fallbackTemplate string,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		games:            repos.Games,
		jobs:             repos.Jobs,
		compiler:         comp,
		artifacts:        artifacts,
		log:              log,
		fallbackTemplate: fallbackTemplate,
		workRoot:         os.TempDir(),
		events:           events.Nop{},
		analytics:        analytics.NopSink{},
		tracer:           otel.Tracer("kyx/pipeline"),
		now:              func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the job named by req. A non-nil error means the job could
// not be claimed and nothing was written. Build failures are reported in
// the Result, never as an error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "build.run", trace.WithAttributes(
		attribute.String("kyx.job_id", req.JobID.String()),
		attribute.String("kyx.game_id", req.GameID.String()),
	))
	defer span.End()

	log := o.log.WithJobID(req.JobID.String()).WithGameID(req.GameID.String())

	job, err := o.claim(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		log.Warn("build not claimed", "error", err)
		return nil, err
	}

	started := o.now()
	done := o.metrics.BuildStarted()
	defer done()

	log.Info("build claimed")
	o.publish(ctx, events.BuildEvent{
		Type:   events.TypeStarted,
		GameID: req.GameID.String(),
		JobID:  req.JobID.String(),
		Status: string(models.JobStatusProcessing),
	})

	bundleURL, upload, perr := o.execute(ctx, req, log)

	// the final writes must land even if the caller went away
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
	defer cancel()

	var res *Result
	if perr == nil {
		res = o.reconcileSuccess(rctx, job, bundleURL, upload, log)
	} else {
		res = o.reconcileFailure(rctx, job, perr, log)
	}
	res.Duration = o.now().Sub(started)

	o.record(rctx, job, res)
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res, nil
}

func (o *Orchestrator) claim(ctx context.Context, req Request) (*models.BuildJob, error) {
	job, err := o.jobs.GetByID(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: job %s not found", ErrIntegrity, req.JobID)
		}
		return nil, err
	}
	if job.GameID != req.GameID {
		return nil, fmt.Errorf("%w: job %s belongs to game %s", ErrIntegrity, job.ID, job.GameID)
	}

	if err := o.jobs.Claim(ctx, job.ID, o.now()); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusProcessing
	return job, nil
}

// execute runs materialize, compile and upload. Panics are converted into
// a failure of the step that was running.
func (o *Orchestrator) execute(ctx context.Context, req Request, log *logger.Logger) (bundleURL string, upload *objstore.Upload, perr *PipelineError) {
	step := StepMaterialize
	defer func() {
		if r := recover(); r != nil {
			log.Error("build panicked", "step", step, "panic", r)
			perr = &PipelineError{Step: step, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	game, err := o.games.GetByID(ctx, req.GameID)
	if err != nil {
		return "", nil, stepError(step, err)
	}

	ws, err := o.materialize(ctx, req)
	if err != nil {
		return "", nil, stepError(step, err)
	}
	defer func() {
		if err := os.RemoveAll(ws); err != nil {
			log.Warn("failed to remove workspace", "dir", ws, "error", err)
		}
	}()

	step = StepCompile
	compiled, err := traced(ctx, o.tracer, "build.compile", func(ctx context.Context) (*compiler.Result, error) {
		return o.compiler.Compile(ctx, ws)
	})
	if err != nil {
		return "", nil, stepError(step, err)
	}
	log.Info("compile finished", "duration_ms", compiled.Duration.Milliseconds())

	step = StepUpload
	prefix := game.ArtifactPrefix()
	upload, err = traced(ctx, o.tracer, "build.upload", func(ctx context.Context) (*objstore.Upload, error) {
		return o.artifacts.UploadDir(ctx, compiled.OutputDir, prefix)
	})
	if err != nil {
		return "", nil, stepError(step, err)
	}
	log.Info("bundle uploaded", "files", upload.Files, "bytes", upload.Bytes)

	return o.artifacts.PublicURL(path.Join(prefix, entryFile)), upload, nil
}

// materialize writes the source (or fallback template) and config into a
// fresh workspace. The caller removes the returned directory.
func (o *Orchestrator) materialize(ctx context.Context, req Request) (string, error) {
	_, span := o.tracer.Start(ctx, "build.materialize")
	defer span.End()

	var source []byte
	if req.Source != nil && *req.Source != "" {
		source = []byte(*req.Source)
	} else {
		tmpl, err := os.ReadFile(o.fallbackTemplate)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMissingTemplate, err)
		}
		source = tmpl
	}

	config := req.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	ws, err := os.MkdirTemp(o.workRoot, "kyx-"+req.JobID.String()+"-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if err := os.WriteFile(filepath.Join(ws, sourceFile), source, 0o644); err != nil {
		os.RemoveAll(ws)
		return "", fmt.Errorf("write %s: %w", sourceFile, err)
	}
	if err := os.WriteFile(filepath.Join(ws, configFile), config, 0o644); err != nil {
		os.RemoveAll(ws)
		return "", fmt.Errorf("write %s: %w", configFile, err)
	}
	return ws, nil
}

func (o *Orchestrator) reconcileSuccess(ctx context.Context, job *models.BuildJob, bundleURL string, upload *objstore.Upload, log *logger.Logger) *Result {
	res := &Result{JobID: job.ID, BundleURL: bundleURL, BundleBytes: upload.Bytes}

	if err := o.games.MarkBuilt(ctx, job.GameID, job.ID, bundleURL, upload.Bytes); err != nil {
		if errors.Is(err, models.ErrSuperseded) {
			log.Warn("build superseded before publish, result discarded")
			res.Status = models.JobStatusFailed
			res.Superseded = true
			return res
		}
		return o.reconcileFailure(ctx, job, &PipelineError{Step: StepReconcile, Err: err}, log)
	}

	// the game already points at the new bundle; a lost write here leaves a
	// processing job that the sweep completes once its lease runs out
	if err := o.jobs.Complete(ctx, job.ID, o.now()); err != nil {
		log.Error("failed to complete build job", "error", err)
	}

	res.Status = models.JobStatusCompleted
	log.Info("build completed", "bundle_url", bundleURL, "bundle_bytes", upload.Bytes)
	o.publish(ctx, events.BuildEvent{
		Type:      events.TypeCompleted,
		GameID:    job.GameID.String(),
		JobID:     job.ID.String(),
		Status:    string(models.JobStatusCompleted),
		BundleURL: bundleURL,
	})
	return res
}

func (o *Orchestrator) reconcileFailure(ctx context.Context, job *models.BuildJob, perr *PipelineError, log *logger.Logger) *Result {
	res := &Result{JobID: job.ID, Status: models.JobStatusFailed, Err: perr}
	log.Warn("build failed", "step", perr.Step, "error", perr.Err)

	if err := o.jobs.Fail(ctx, job.ID, perr.Error(), o.now()); err != nil {
		if errors.Is(err, models.ErrSuperseded) {
			log.Warn("build superseded before failure was recorded")
			res.Superseded = true
			return res
		}
		log.Error("failed to record build failure", "error", err)
		return res
	}

	// a lost write here leaves the game in building; the sweep settles it
	if _, err := o.games.SettleBuilding(ctx, job.GameID, models.GameStatusFailed); err != nil {
		log.Error("failed to mark game failed", "error", err)
	}

	o.publish(ctx, events.BuildEvent{
		Type:   events.TypeFailed,
		GameID: job.GameID.String(),
		JobID:  job.ID.String(),
		Status: string(models.JobStatusFailed),
		Error:  perr.Error(),
	})
	return res
}

func (o *Orchestrator) record(ctx context.Context, job *models.BuildJob, res *Result) {
	outcome := analytics.Outcome{
		JobID:       job.ID.String(),
		GameID:      job.GameID.String(),
		OwnerID:     job.OwnerID,
		Status:      string(res.Status),
		Duration:    res.Duration,
		BundleBytes: res.BundleBytes,
		FinishedAt:  o.now(),
	}

	switch {
	case res.Superseded:
		outcome.Step = "superseded"
	case res.Err != nil:
		outcome.Step = string(res.Err.Step)
		outcome.Error = res.Err.Error()
		o.metrics.RecordFailed(outcome.Step, res.Duration)
	default:
		o.metrics.RecordCompleted(res.Duration)
	}

	if err := o.analytics.Record(ctx, outcome); err != nil {
		o.log.Warn("failed to record build outcome", "job_id", job.ID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev events.BuildEvent) {
	if err := o.events.Publish(ctx, ev); err != nil {
		o.log.Warn("failed to publish build event", "type", ev.Type, "game_id", ev.GameID, "error", err)
	}
}

func traced[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}
