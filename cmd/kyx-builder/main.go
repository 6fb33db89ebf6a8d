package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-builder/handlers"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/bootstrap"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/middleware"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/server"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/worker"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "kyx-builder")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap kyx-builder: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	cfg := components.Config
	log := components.Logger

	pool := worker.NewEngine(components)
	sweeper := worker.NewSweeper(components)

	switch cfg.Dispatch.Mode {
	case "redis", "kafka":
		if err := pool.Consume(ctx, components.Queue, cfg.BuildTopic()); err != nil {
			log.Error("Failed to consume build queue", "error", err)
			os.Exit(1)
		}
	case "memory":
		log.Warn("memory dispatch runs builds inside kyx-api; kyx-builder only serves HTTP triggers")
	}

	go func() {
		if err := sweeper.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("Sweeper stopped", "error", err)
		}
	}()

	h := handlers.NewBuildHandler(pool, sweeper, log)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/health", h.Health)
	if components.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(components.Telemetry.MetricsHandler()))
	}

	internal := e.Group("/internal")
	internal.Use(middleware.RequireBuildSecret(cfg.Dispatch.Secret))
	{
		internal.POST("/builds", h.Trigger) // POST /internal/builds
		internal.POST("/sweep", h.Sweep)    // POST /internal/sweep
	}

	srv := server.New("kyx-builder", cfg.Service.Port, e, log)
	srv.OnShutdown = func(ctx context.Context) {
		if err := pool.Shutdown(ctx); err != nil {
			log.Warn("builds cancelled at shutdown", "error", err)
		}
	}

	log.Info("Starting kyx-builder",
		"port", cfg.Service.Port,
		"dispatch", cfg.Dispatch.Mode,
		"max_concurrency", cfg.Build.MaxConcurrency)
	if err := srv.Run(ctx); err != nil {
		log.Error("Server error", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}
