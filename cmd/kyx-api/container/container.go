package container

import (
	"context"
	"fmt"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/service"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/bootstrap"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/clients"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/policy"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/supervisor"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/worker"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Services
	GameService  *service.GameService
	BuildService *service.BuildService
	PlayService  *service.PlayService

	Authenticator middleware.Authenticator

	// Set only in memory dispatch mode, where kyx-api builds in-process
	Engine  *worker.Pool
	Sweeper *supervisor.Sweeper
}

// NewContainer initializes all services once
func NewContainer(components *bootstrap.Components) (*Container, error) {
	cfg := components.Config

	dispatcher, err := newDispatcher(components)
	if err != nil {
		return nil, err
	}

	gate, err := policy.New(cfg.Limits.AdmissionPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to compile admission policy: %w", err)
	}

	gameService := service.NewGameService(components.Repos.Games, components.Logger)
	buildService := service.NewBuildService(&service.BuildServiceOpts{
		Repos:           components.Repos,
		Dispatcher:      dispatcher,
		Counter:         components.Counter,
		Gate:            gate,
		Events:          components.Events,
		Metrics:         components.Metrics,
		Logger:          components.Logger,
		RateLimit:       cfg.Limits.BuildRateLimit,
		RateWindow:      cfg.Limits.BuildRateWindow,
		DispatchTimeout: cfg.Dispatch.Timeout,
	})
	playService := service.NewPlayService(
		components.Repos.Games,
		components.Artifacts,
		components.Cache,
		cfg.Cache.DefaultTTL,
		components.Logger,
	)

	c := &Container{
		Components:    components,
		GameService:   gameService,
		BuildService:  buildService,
		PlayService:   playService,
		Authenticator: newAuthenticator(components),
	}

	if cfg.Dispatch.Mode == "memory" {
		c.Engine = worker.NewEngine(components)
		c.Sweeper = worker.NewSweeper(components)
	}
	return c, nil
}

// Start launches the embedded builder and sweeper, if any
func (c *Container) Start(ctx context.Context) error {
	if c.Engine == nil {
		return nil
	}
	if err := c.Engine.Consume(ctx, c.Components.Queue, c.Components.Config.BuildTopic()); err != nil {
		return fmt.Errorf("failed to consume build queue: %w", err)
	}
	go c.Sweeper.Start(ctx)
	c.Components.Logger.Info("embedded builder started", "max_concurrency", c.Components.Config.Build.MaxConcurrency)
	return nil
}

// Shutdown waits for pending dispatches and in-flight embedded builds
func (c *Container) Shutdown(ctx context.Context) {
	if err := c.BuildService.WaitDispatches(ctx); err != nil {
		c.Components.Logger.Warn("dispatches still running at shutdown", "error", err)
	}
	if c.Engine != nil {
		if err := c.Engine.Shutdown(ctx); err != nil {
			c.Components.Logger.Warn("builds cancelled at shutdown", "error", err)
		}
	}
}

// newDispatcher picks the transport named by DISPATCH_MODE
func newDispatcher(components *bootstrap.Components) (service.Dispatcher, error) {
	cfg := components.Config

	switch cfg.Dispatch.Mode {
	case "http":
		client := clients.NewBuildServiceClient(cfg.Dispatch.ServiceURL, cfg.Dispatch.Secret, cfg.Dispatch.Timeout, components.Logger)
		return service.NewHTTPDispatcher(client), nil
	case "redis", "kafka", "memory":
		if components.Queue == nil {
			return nil, fmt.Errorf("dispatch mode %s requires a queue", cfg.Dispatch.Mode)
		}
		return service.NewQueueDispatcher(components.Queue, cfg.BuildTopic(), cfg.Dispatch.Mode), nil
	}
	return nil, fmt.Errorf("unknown dispatch mode: %s", cfg.Dispatch.Mode)
}

func newAuthenticator(components *bootstrap.Components) middleware.Authenticator {
	auth := components.Config.Auth
	if auth.Mode == "jwt" {
		return middleware.JWTAuthenticator(middleware.NewTokenIssuer(auth.JWTSecret, auth.JWTIssuer))
	}
	return middleware.HeaderAuthenticator()
}
