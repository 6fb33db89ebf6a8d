package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Build     BuildConfig
	Dispatch  DispatchConfig
	Auth      AuthConfig
	Limits    LimitsConfig
	Telemetry TelemetryConfig
	Analytics AnalyticsConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
	LogFile     LogFileConfig
}

// LogFileConfig enables rotating file output when Path is set
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DatabaseConfig holds relational store settings
type DatabaseConfig struct {
	Driver      string // "postgres" or "sqlite"
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
	SQLitePath  string
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// QueueConfig holds build dispatch queue settings. The transport itself is
// chosen by DispatchConfig.Mode.
type QueueConfig struct {
	Brokers     []string
	BuildTopic  string
	GroupID     string
	RedisStream string
	RedisGroup  string
}

// StorageConfig holds artifact store settings
type StorageConfig struct {
	Driver         string // "s3", "file", "mem", "oss" or "cos"
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	BaseDir        string
	PublicBaseURL  string
}

// BuildConfig holds compiler and lifecycle settings
type BuildConfig struct {
	WorkDir           string
	CompilerBin       string
	CompilerArgs      []string
	Timeout           time.Duration
	FallbackTemplate  string
	PendingTimeout    time.Duration
	ProcessingTimeout time.Duration
	SweepInterval     time.Duration
	MaxConcurrency    int
}

// DispatchConfig controls how kyx-api hands jobs to the build service
type DispatchConfig struct {
	Mode       string // "http", "redis", "kafka" or "memory"
	ServiceURL string
	Secret     string
	Timeout    time.Duration
}

// AuthConfig controls user authentication on kyx-api
type AuthConfig struct {
	Mode      string // "header" or "jwt"
	JWTSecret string
	JWTIssuer string
}

// LimitsConfig holds admission gates
type LimitsConfig struct {
	RateLimitBackend string // "memory" or "redis"
	BuildRateLimit   int64
	BuildRateWindow  time.Duration
	APIRateLimit     int64
	APIRateWindow    time.Duration
	AdmissionPolicy  string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof    bool
	PprofPort      int
	EnableTracing  bool
	EnableMetrics  bool
	MetricsPort    int
	TracingBackend string
	OTLPEndpoint   string
}

// AnalyticsConfig selects where build outcomes are recorded
type AnalyticsConfig struct {
	Backend            string // "clickhouse" or "noop"
	ClickHouseAddr     string
	ClickHouseDatabase string
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	defaultPort := 8080
	if serviceName == "kyx-builder" {
		defaultPort = 8081
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", defaultPort),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			LogFile: LogFileConfig{
				Path:       getEnv("LOG_FILE", ""),
				MaxSizeMB:  getEnvInt("LOG_FILE_MAX_MB", 100),
				MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 5),
				MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 14),
				Compress:   getEnvBool("LOG_FILE_COMPRESS", true),
			},
		},
		Database: DatabaseConfig{
			Driver:      getEnv("DATABASE_DRIVER", "postgres"),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "kyx"),
			User:        getEnv("POSTGRES_USER", "kyx"),
			Password:    getEnv("POSTGRES_PASSWORD", "kyx"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 20),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
			SQLitePath:  getEnv("SQLITE_PATH", "kyx.db"),
			AutoMigrate: getEnvBool("DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 10*time.Minute),
		},
		Queue: QueueConfig{
			Brokers:     getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			BuildTopic:  getEnv("KAFKA_BUILD_TOPIC", "kyx.build.requests"),
			GroupID:     getEnv("KAFKA_GROUP_ID", "kyx-builder"),
			RedisStream: getEnv("REDIS_BUILD_STREAM", "kyx.build.requests"),
			RedisGroup:  getEnv("REDIS_BUILD_GROUP", "kyx-builder"),
		},
		Storage: StorageConfig{
			Driver:         getEnv("STORAGE_DRIVER", "file"),
			Bucket:         getEnv("STORAGE_BUCKET", ""),
			Region:         getEnv("STORAGE_REGION", ""),
			Endpoint:       getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:      getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:      getEnv("STORAGE_SECRET_KEY", ""),
			ForcePathStyle: getEnvBool("STORAGE_FORCE_PATH_STYLE", false),
			BaseDir:        getEnv("STORAGE_BASE_DIR", "./data/artifacts"),
			PublicBaseURL:  getEnv("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/play"),
		},
		Build: BuildConfig{
			WorkDir:           getEnv("BUILD_WORK_DIR", os.TempDir()),
			CompilerBin:       getEnv("BUILD_COMPILER_BIN", "python3"),
			CompilerArgs:      strings.Fields(getEnv("BUILD_COMPILER_ARGS", "-m pygbag --build")),
			Timeout:           getEnvDuration("BUILD_TIMEOUT", 2*time.Minute),
			FallbackTemplate:  getEnv("BUILD_FALLBACK_TEMPLATE", "templates/main.py"),
			PendingTimeout:    getEnvDuration("BUILD_PENDING_TIMEOUT", 10*time.Minute),
			ProcessingTimeout: getEnvDuration("BUILD_PROCESSING_TIMEOUT", 5*time.Minute),
			SweepInterval:     getEnvDuration("BUILD_SWEEP_INTERVAL", 1*time.Minute),
			MaxConcurrency:    getEnvInt("BUILD_MAX_CONCURRENCY", 2),
		},
		Dispatch: DispatchConfig{
			Mode:       getEnv("DISPATCH_MODE", "http"),
			ServiceURL: getEnv("BUILD_SERVICE_URL", "http://localhost:8081"),
			Secret:     getEnv("BUILD_SERVICE_SECRET", ""),
			Timeout:    getEnvDuration("BUILD_DISPATCH_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Mode:      getEnv("AUTH_MODE", "header"),
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: getEnv("AUTH_JWT_ISSUER", ""),
		},
		Limits: LimitsConfig{
			RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
			BuildRateLimit:   int64(getEnvInt("BUILD_RATE_LIMIT", 10)),
			BuildRateWindow:  getEnvDuration("BUILD_RATE_WINDOW", 1*time.Hour),
			APIRateLimit:     int64(getEnvInt("API_RATE_LIMIT", 600)),
			APIRateWindow:    getEnvDuration("API_RATE_WINDOW", 1*time.Minute),
			AdmissionPolicy:  getEnv("BUILD_ADMISSION_POLICY", ""),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:    getEnvBool("ENABLE_PPROF", false),
			PprofPort:      getEnvInt("PPROF_PORT", 6060),
			EnableTracing:  getEnvBool("ENABLE_TRACING", false),
			EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
			MetricsPort:    getEnvInt("METRICS_PORT", 9090),
			TracingBackend: getEnv("TRACING_BACKEND", "otlp"),
			OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4318"),
		},
		Analytics: AnalyticsConfig{
			Backend:            getEnv("ANALYTICS_BACKEND", "noop"),
			ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
			ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "kyx"),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %s", c.Database.Driver)
	}

	switch c.Dispatch.Mode {
	case "http", "redis", "kafka", "memory":
	default:
		return fmt.Errorf("unknown dispatch mode: %s", c.Dispatch.Mode)
	}

	if c.Dispatch.Mode == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("DISPATCH_MODE=redis requires REDIS_ENABLED")
	}

	if c.Limits.RateLimitBackend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_ENABLED")
	}

	if c.Auth.Mode == "jwt" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when AUTH_MODE=jwt")
	}

	if c.Build.Timeout <= 0 {
		return fmt.Errorf("build timeout must be positive")
	}

	if c.Build.MaxConcurrency < 1 {
		return fmt.Errorf("build max concurrency must be >= 1")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// BuildTopic is the queue topic build requests travel on for the configured
// dispatch mode
func (c *Config) BuildTopic() string {
	if c.Dispatch.Mode == "redis" {
		return c.Queue.RedisStream
	}
	return c.Queue.BuildTopic
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
