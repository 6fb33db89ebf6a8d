package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/container"
	"github.com/JugPanda/HackKentucky-KYX-sub000/cmd/kyx-api/routes"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/bootstrap"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/server"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap common components (DB, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, "kyx-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap kyx-api: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	// Initialize service container (all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}
	if err := serviceContainer.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start embedded builder: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	registerRoutes(e, serviceContainer)

	startServer(ctx, e, serviceContainer)
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check and metrics endpoints
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := components.Health(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": "kyx-api",
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "ok",
			"service":  "kyx-api",
			"dispatch": components.Config.Dispatch.Mode,
		})
	})

	if components.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(components.Telemetry.MetricsHandler()))
	}
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterGameRoutes(e, serviceContainer)
	routes.RegisterPlayRoutes(e, serviceContainer)
}

// startServer serves until ctx is canceled, then drains dispatches and builds
func startServer(ctx context.Context, e *echo.Echo, serviceContainer *container.Container) {
	components := serviceContainer.Components
	port := components.Config.Service.Port

	srv := server.New("kyx-api", port, e, components.Logger)
	srv.OnShutdown = serviceContainer.Shutdown

	components.Logger.Info("Starting kyx-api", "port", port, "dispatch", components.Config.Dispatch.Mode)
	if err := srv.Run(ctx); err != nil {
		components.Logger.Error("Server error", "error", err)
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}
