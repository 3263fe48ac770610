// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Backend names accepted by the storage selectors.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Row event policies for bulk imports.
const (
	RowEventsNone = "none"
	RowEventsAll  = "all"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Logging LoggingConfig `mapstructure:"logging"`
	Import  ImportConfig  `mapstructure:"import"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Status  StatusConfig  `mapstructure:"status"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Upload  UploadConfig  `mapstructure:"upload"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	UploadTimeoutSeconds   int `mapstructure:"upload_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ImportConfig governs the CSV import worker pool.
type ImportConfig struct {
	Workers       int    `mapstructure:"workers"`
	QueueDepth    int    `mapstructure:"queue_depth"`
	ProgressEvery int    `mapstructure:"progress_every"`
	MaxErrors     int    `mapstructure:"max_errors"`
	RowEvents     string `mapstructure:"row_events"`
}

// WebhookConfig configures outbound delivery and retry behavior.
type WebhookConfig struct {
	Workers          int     `mapstructure:"workers"`
	QueueSize        int     `mapstructure:"queue_size"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	HostRPS          float64 `mapstructure:"host_rps"`
	HostBurst        int     `mapstructure:"host_burst"`
	SigningSecret    string  `mapstructure:"signing_secret"`
}

// StorageConfig selects the product and webhook store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// StatusConfig selects the task status backend.
type StatusConfig struct {
	Backend  string `mapstructure:"backend"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// RedisConfig holds connection settings for the shared status store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// UploadConfig configures upload intake.
type UploadConfig struct {
	Backend         string `mapstructure:"backend"`
	Dir             string `mapstructure:"dir"`
	MaxBytes        int64  `mapstructure:"max_bytes"`
	GCSBucket       string `mapstructure:"gcs_bucket"`
	Prefix          string `mapstructure:"prefix"`
	JanitorSchedule string `mapstructure:"janitor_schedule"`
	MaxAgeMinutes   int    `mapstructure:"max_age_minutes"`
}

// PubSubConfig holds metadata for the event mirror topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether the mirror should be wired.
func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.TopicName != ""
}

// Load builds a Config from .env, disk and environment, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.upload_timeout_seconds", 900)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("import.workers", 2)
	v.SetDefault("import.queue_depth", 64)
	v.SetDefault("import.progress_every", 100)
	v.SetDefault("import.max_errors", 100)
	v.SetDefault("import.row_events", RowEventsNone)
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 1024)
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.backoff_initial_ms", 1000)
	v.SetDefault("webhook.backoff_max_ms", 60000)
	v.SetDefault("webhook.user_agent", "catalog-ingest-webhooks/1.0")
	v.SetDefault("webhook.host_rps", 0)
	v.SetDefault("webhook.host_burst", 1)
	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("status.backend", BackendMemory)
	v.SetDefault("status.ttl_hours", 24)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("upload.backend", BackendLocal)
	v.SetDefault("upload.dir", "./data/uploads")
	v.SetDefault("upload.max_bytes", int64(100<<20))
	v.SetDefault("upload.gcs_bucket", "")
	v.SetDefault("upload.prefix", "uploads")
	v.SetDefault("upload.janitor_schedule", "@every 15m")
	v.SetDefault("upload.max_age_minutes", 1440)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds < 0 || c.Server.UploadTimeoutSeconds < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Import.Workers <= 0 {
		return fmt.Errorf("import.workers must be > 0")
	}
	if c.Import.QueueDepth <= 0 {
		return fmt.Errorf("import.queue_depth must be > 0")
	}
	if c.Import.RowEvents != RowEventsNone && c.Import.RowEvents != RowEventsAll {
		return fmt.Errorf("import.row_events must be %q or %q", RowEventsNone, RowEventsAll)
	}
	if c.Webhook.Workers <= 0 {
		return fmt.Errorf("webhook.workers must be > 0")
	}
	if c.Webhook.TimeoutSeconds <= 0 {
		return fmt.Errorf("webhook.timeout_seconds must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	if c.Webhook.HostRPS < 0 {
		return fmt.Errorf("webhook.host_rps must be >= 0")
	}
	if c.Webhook.BackoffInitialMs <= 0 || c.Webhook.BackoffMaxMs < c.Webhook.BackoffInitialMs {
		return fmt.Errorf("webhook backoff must satisfy 0 < backoff_initial_ms <= backoff_max_ms")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", BackendMemory, BackendPostgres)
	}
	switch c.Status.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when status.backend is redis")
		}
	default:
		return fmt.Errorf("status.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	switch c.Upload.Backend {
	case BackendLocal:
		if c.Upload.Dir == "" {
			return fmt.Errorf("upload.dir must be set when upload.backend is local")
		}
	case BackendGCS:
		if c.Upload.GCSBucket == "" {
			return fmt.Errorf("upload.gcs_bucket must be set when upload.backend is gcs")
		}
	default:
		return fmt.Errorf("upload.backend must be %q or %q", BackendLocal, BackendGCS)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be > 0")
	}
	if c.Upload.MaxAgeMinutes <= 0 {
		return fmt.Errorf("upload.max_age_minutes must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// RequestTimeout is the per-request budget for API handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// UploadTimeout is the budget for POST /products/upload/; zero disables it.
func (c Config) UploadTimeout() time.Duration {
	return time.Duration(c.Server.UploadTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// WebhookTimeout is the per-request delivery timeout.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// WebhookBackoff returns the initial and maximum retry delays.
func (c Config) WebhookBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Webhook.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.Webhook.BackoffMaxMs) * time.Millisecond
}

// StatusTTL is how long task status records are retained.
func (c Config) StatusTTL() time.Duration {
	return time.Duration(c.Status.TTLHours) * time.Hour
}

// UploadMaxAge is the age after which the janitor removes abandoned uploads.
func (c Config) UploadMaxAge() time.Duration {
	return time.Duration(c.Upload.MaxAgeMinutes) * time.Minute
}

// DBMaxConnLifetime converts the pool lifetime setting.
func (c Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}
