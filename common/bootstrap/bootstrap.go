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
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	hub := events.NewHub()
	components := &Components{
		cleanupFuncs: make([]func() error, 0),
		Events:       hub,
		Feed:         hub,
		Analytics:    analytics.NopSink{},
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg := components.Config

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.NewWithFile(
			cfg.Service.LogLevel,
			cfg.Service.LogFormat,
			logger.FileOptions{
				Path:       cfg.Service.LogFile.Path,
				MaxSizeMB:  cfg.Service.LogFile.MaxSizeMB,
				MaxBackups: cfg.Service.LogFile.MaxBackups,
				MaxAgeDays: cfg.Service.LogFile.MaxAgeDays,
				Compress:   cfg.Service.LogFile.Compress,
			},
		)
	}
	log := components.Logger

	log.Info("initializing service",
		"service", serviceName,
		"environment", cfg.Service.Environment,
	)

	fail := func(err error) (*Components, error) {
		components.Shutdown(ctx)
		return nil, err
	}

	// 3. Tracing
	if !options.skipTelemetry && cfg.Telemetry.EnableTracing && cfg.Telemetry.TracingBackend == "otlp" {
		shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
			ServiceName: serviceName,
			Environment: cfg.Service.Environment,
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
		})
		if err != nil {
			// Don't fail startup if tracing fails
			log.Warn("failed to set up tracing", "error", err)
		} else {
			log.Info("tracing enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			components.addCleanup(func() error {
				return shutdown(context.Background())
			})
		}
	}

	// 4. Telemetry and metrics
	if !options.skipTelemetry {
		pprofPort, metricsPort := 0, 0
		if cfg.Telemetry.EnablePprof {
			pprofPort = cfg.Telemetry.PprofPort
		}
		if cfg.Telemetry.EnableMetrics {
			metricsPort = cfg.Telemetry.MetricsPort
		}

		components.Telemetry = telemetry.New(pprofPort, metricsPort, log)
		components.Metrics = metrics.NewBuildMetrics(components.Telemetry.Registry())

		if err := components.Telemetry.Start(ctx); err != nil {
			log.Warn("failed to start telemetry", "error", err)
		}
		components.addCleanup(components.Telemetry.Close)
	}

	// 5. Database
	if !options.skipDB {
		if err := setupDatabase(ctx, components); err != nil {
			return fail(err)
		}

		if options.dbInitHook != nil {
			log.Info("running database init hook")
			if err := options.dbInitHook(components.Repos); err != nil {
				return fail(fmt.Errorf("database init hook failed: %w", err))
			}
		}
	}

	// 6. Redis
	if !options.skipRedis && cfg.Redis.Enabled {
		components.Redis, err = redisclient.Dial(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			return fail(fmt.Errorf("failed to connect to redis: %w", err))
		}
		components.Events = events.NewRedisPublisher(components.Redis)
		components.Feed = events.NewRedisSubscriber(components.Redis, log)
		components.addCleanup(func() error {
			log.Info("closing redis")
			return components.Redis.Close()
		})
	}

	// 7. Rate limit counter
	if cfg.Limits.RateLimitBackend == "redis" && components.Redis != nil {
		components.Counter = ratelimit.NewRedisLimiter(components.Redis.GetUnderlying(), log)
	} else {
		components.Counter = ratelimit.NewMemoryLimiter()
	}

	// 8. Dispatch queue
	if !options.skipQueue {
		components.Queue, err = newQueue(cfg, components.Redis, log)
		if err != nil {
			return fail(err)
		}
		if components.Queue != nil {
			log.Info("queue initialized", "mode", cfg.Dispatch.Mode, "topic", cfg.BuildTopic())
			components.addCleanup(func() error {
				log.Info("closing queue")
				return components.Queue.Close()
			})
		}
	}

	// 9. Cache
	if !options.skipCache && cfg.Cache.Enabled {
		if components.Redis != nil {
			components.Cache = cache.NewRedisCache(components.Redis, "kyx:cache:")
		} else {
			components.Cache = cache.NewMemoryCache(log)
		}
		components.addCleanup(func() error {
			log.Info("closing cache")
			return components.Cache.Close()
		})
	}

	// 10. Artifact store
	if !options.skipStorage {
		components.Artifacts, err = objstore.Open(ctx, cfg.Storage)
		if err != nil {
			return fail(fmt.Errorf("failed to open artifact store: %w", err))
		}
		log.Info("artifact store opened", "driver", components.Artifacts.Driver())
		components.addCleanup(components.Artifacts.Close)
	}

	// 11. Analytics
	if cfg.Analytics.Backend == "clickhouse" {
		sink, err := analytics.NewClickHouseSink(ctx, cfg.Analytics.ClickHouseAddr, cfg.Analytics.ClickHouseDatabase)
		if err != nil {
			// Don't fail startup if analytics is unavailable
			log.Warn("clickhouse unavailable, build outcomes will not be recorded", "error", err)
		} else {
			components.Analytics = sink
			components.addCleanup(sink.Close)
		}
	}

	log.Info("service initialization complete",
		"service", serviceName,
		"db", cfg.Database.Driver,
		"redis", components.Redis != nil,
		"queue", components.Queue != nil,
		"cache", components.Cache != nil,
		"storage", components.Artifacts != nil,
		"telemetry", components.Telemetry != nil,
	)

	return components, nil
}

// MustSetup is like Setup but panics on error
// Useful for services that can't recover from initialization failure
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to setup service %s: %v", serviceName, err))
	}
	return components
}

func setupDatabase(ctx context.Context, c *Components) error {
	cfg := c.Config
	log := c.Logger

	switch cfg.Database.Driver {
	case "sqlite":
		log.Info("opening sqlite database", "path", cfg.Database.SQLitePath)
		gdb, err := db.OpenSQLite(cfg.Database.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("failed to open sqlite: %w", err)
		}
		c.Gorm = gdb
		c.addCleanup(func() error {
			log.Info("closing database connection")
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})

		if cfg.Database.AutoMigrate {
			if err := repository.MigrateGorm(ctx, gdb); err != nil {
				return fmt.Errorf("failed to migrate sqlite: %w", err)
			}
		}
		c.Repos = repository.NewGorm(gdb)

	default:
		log.Info("connecting to database")
		database, err := db.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = database
		c.addCleanup(func() error {
			database.Close()
			return nil
		})

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		c.Repos = repository.NewPostgres(database)
	}
	return nil
}

// newQueue returns nil for http dispatch, which needs no queue
func newQueue(cfg *config.Config, rdb *redisclient.Client, log *logger.Logger) (queue.Queue, error) {
	switch cfg.Dispatch.Mode {
	case "memory":
		return queue.NewMemoryQueue(log), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis dispatch requires a redis connection")
		}
		return queue.NewRedisStreamQueue(rdb, cfg.Queue.RedisGroup, log), nil
	case "kafka":
		return queue.NewKafkaQueue(cfg.Queue.Brokers, cfg.Queue.GroupID, log), nil
	case "http":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode: %s", cfg.Dispatch.Mode)
	}
}
