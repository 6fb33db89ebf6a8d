package bootstrap

import (
	"context"
	"fmt"

	"github.com/JugPanda/HackKentucky-KYX-sub000/common/analytics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/cache"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/config"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/db"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/events"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/logger"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/metrics"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/objstore"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/queue"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/ratelimit"
	redisclient "github.com/JugPanda/HackKentucky-KYX-sub000/common/redis"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/repository"
	"github.com/JugPanda/HackKentucky-KYX-sub000/common/telemetry"
	"gorm.io/gorm"
)

// Components holds all initialized service dependencies
type Components struct {
	Config *config.Config
	Logger *logger.Logger

	// DB is set for the postgres driver, Gorm for sqlite. Repos always.
	DB    *db.DB
	Gorm  *gorm.DB
	Repos *repository.Repositories

	Redis     *redisclient.Client
	Queue     queue.Queue
	Cache     cache.Cache
	Artifacts *objstore.Store
	Counter   ratelimit.Counter
	Events    events.Publisher
	Feed      events.Subscriber
	Analytics analytics.Sink
	Telemetry *telemetry.Telemetry
	Metrics   *metrics.BuildMetrics

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Gorm != nil {
		sqlDB, err := c.Gorm.DB()
		if err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.GetUnderlying().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
