package worker

import (
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/bootstrap"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/compiler"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/pipeline"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/supervisor"
)

// NewEngine wires the pygbag compiler and the build pipeline onto the
// bootstrapped components and returns a pool sized by BUILD_MAX_CONCURRENCY.
func NewEngine(c *bootstrap.Components) *Pool {
	cfg := c.Config.Build

	comp := compiler.NewPygbag(cfg.CompilerBin, cfg.CompilerArgs, cfg.Timeout, compiler.OSRunner{})
	orch := pipeline.New(c.Repos, comp, c.Artifacts, cfg.FallbackTemplate, c.Logger,
		pipeline.WithEvents(c.Events),
		pipeline.WithMetrics(c.Metrics),
		pipeline.WithAnalytics(c.Analytics),
		pipeline.WithWorkRoot(cfg.WorkDir),
	)
	return NewPool(orch, cfg.MaxConcurrency, c.Logger)
}

// NewSweeper configures the stuck-job sweeper from the build settings.
// Replicas share a Redis lock when Redis is available.
func NewSweeper(c *bootstrap.Components) *supervisor.Sweeper {
	cfg := c.Config.Build

	s := supervisor.NewSweeper(c.Repos, c.Logger).
		WithCheckInterval(cfg.SweepInterval).
		WithTimeouts(cfg.PendingTimeout, cfg.ProcessingTimeout).
		WithEvents(c.Events).
		WithMetrics(c.Metrics)
	if c.Redis != nil {
		s = s.WithLocker(c.Redis)
	}
	return s
}
