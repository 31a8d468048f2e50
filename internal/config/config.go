// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webaudit/internal/audit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Origin is prepended to Location headers (scheme://host[:port]).
	Origin                string   `mapstructure:"origin"`
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int      `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// AuditConfig governs the page fetch and screenshot devices.
type AuditConfig struct {
	UserAgent           string                `mapstructure:"user_agent"`
	FetchTimeoutSeconds int                   `mapstructure:"fetch_timeout_seconds"`
	Devices             []audit.DeviceProfile `mapstructure:"devices"`
	ScreenshotQuality   int                   `mapstructure:"screenshot_quality"`
	// HostRPS throttles page and favicon fetches per host. Zero disables it.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
	// BlockedHosts lists hosts that are never audited, e.g. "*.internal".
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// HeadlessConfig configures the screenshot renderer.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutMs int  `mapstructure:"idle_timeout_ms"`
}

// PerformanceConfig configures the PageSpeed Insights client.
type PerformanceConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	APIKey         string   `mapstructure:"api_key"`
	Strategies     []string `mapstructure:"strategies"`
	Locale         string   `mapstructure:"locale"`
	QPS            float64  `mapstructure:"qps"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// WorkerConfig sizes the worker pool and queue.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// StorageConfig selects where screenshots are written.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	PublicURL    bool   `mapstructure:"public_url"`
	CacheControl string `mapstructure:"cache_control"`
	LocalDir     string `mapstructure:"local_dir"`
}

// DatabaseConfig selects the report/job store.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	ReportsTable string `mapstructure:"reports_table"`
	JobsTable    string `mapstructure:"jobs_table"`
	MaxConns     int    `mapstructure:"max_conns"`
	MinConns     int    `mapstructure:"min_conns"`
	SQLiteWAL    bool   `mapstructure:"sqlite_wal"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage and database backends.
const (
	BackendMemory    = "memory"
	BackendLocal     = "local"
	BackendGCS       = "gcs"
	DriverMemory     = "memory"
	DriverPostgres   = "postgres"
	DriverSQLite     = "sqlite"
	DefaultUserAgent = "webaudit/1.0 (+https://github.com/JakeFAU/webaudit)"
)

// Load builds a Config from disk and environment. With an empty path the
// usual locations are searched for config.yaml and a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/webaudit/")
		v.AddConfigPath("$HOME/.webaudit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Audit.Devices) == 0 {
		cfg.Audit.Devices = audit.DefaultDevices()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.origin", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("audit.user_agent", DefaultUserAgent)
	v.SetDefault("audit.fetch_timeout_seconds", 15)
	v.SetDefault("audit.screenshot_quality", 75)
	v.SetDefault("audit.host_rps", 0.0)
	v.SetDefault("audit.host_burst", 2)
	v.SetDefault("audit.blocked_hosts", []string{"metadata.google.internal"})
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.idle_timeout_ms", 5000)
	v.SetDefault("performance.enabled", false)
	v.SetDefault("performance.api_key", "")
	v.SetDefault("performance.strategies", []string{"mobile", "desktop"})
	v.SetDefault("performance.locale", "de_DE")
	v.SetDefault("performance.qps", 1.0)
	v.SetDefault("performance.timeout_seconds", 60)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.public_url", false)
	v.SetDefault("storage.cache_control", "public, max-age=86400")
	v.SetDefault("storage.local_dir", "data/artifacts")
	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.reports_table", "audit_reports")
	v.SetDefault("database.jobs_table", "audit_jobs")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.sqlite_wal", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Audit.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("audit.fetch_timeout_seconds must be > 0")
	}
	if c.Audit.ScreenshotQuality < 1 || c.Audit.ScreenshotQuality > 100 {
		return fmt.Errorf("audit.screenshot_quality must be within 1..100")
	}
	if c.Audit.HostRPS < 0 {
		return fmt.Errorf("audit.host_rps must be >= 0")
	}
	seen := map[string]bool{}
	for _, d := range c.Audit.Devices {
		if d.Name == "" || d.Width <= 0 || d.Height <= 0 {
			return fmt.Errorf("audit.devices: name, width and height are required")
		}
		if seen[d.Name] {
			return fmt.Errorf("audit.devices: duplicate device %q", d.Name)
		}
		seen[d.Name] = true
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Performance.Enabled {
		for _, s := range c.Performance.Strategies {
			if s != "mobile" && s != "desktop" {
				return fmt.Errorf("performance.strategies: unknown strategy %q", s)
			}
		}
		if c.Performance.QPS < 0 {
			return fmt.Errorf("performance.qps must be >= 0")
		}
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendLocal:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout returns the page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Audit.FetchTimeoutSeconds) * time.Second
}

// RequestTimeout returns the HTTP handler budget.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
