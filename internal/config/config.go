// Package config loads service configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dispatch modes.
const (
	DispatchQueue  = "queue"
	DispatchInline = "inline"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Public base URL used in result links
	Domain string

	// How the controller hands jobs to background processing
	DispatchMode string

	// Worker-specific configuration
	WorkerID                 string
	WorkerConcurrency        int
	WorkerPollInterval       time.Duration
	WorkerMaxBackoff         time.Duration
	WorkerHeartbeatInterval  time.Duration
	HeartVisibilityExtension time.Duration

	// Staging and artifact storage
	StorageBackend string
	StorageDir     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// Record lookup cache; empty disables it
	RedisURL string

	LogLevel     string
	LogFile      string
	OTELEndpoint string

	// Ingestion tuning
	CheckpointEvery  int
	FailureThreshold float64
	RecordRetention  time.Duration

	// Per-owner upload rate limit; zero disables it
	UploadRateLimit float64
	UploadRateBurst int
	MaxUploadBytes  int64

	// YAML file of templates loaded at controller start
	SchemaFile string
}

// envAliases are unprefixed variable names accepted alongside TEMPLR_*.
var envAliases = map[string]string{
	"database_url":  "DATABASE_URL",
	"http_port":     "PORT",
	"otel_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
	"redis_url":     "REDIS_URL",
}

func defaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("http_port", 6161)
	v.SetDefault("domain", "http://localhost:6161")
	v.SetDefault("dispatch_mode", DispatchQueue)
	v.SetDefault("worker_id", "")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 2*time.Minute)
	v.SetDefault("worker_visibility_extension", 5*time.Minute)
	v.SetDefault("storage_backend", StorageLocal)
	v.SetDefault("storage_dir", "data")
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "templr")
	v.SetDefault("minio_region", "")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("redis_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("checkpoint_every", 1000)
	v.SetDefault("failure_threshold", 0.5)
	v.SetDefault("record_retention", 30*24*time.Hour)
	v.SetDefault("upload_rate_limit", 0)
	v.SetDefault("upload_rate_burst", 5)
	v.SetDefault("max_upload_bytes", 50<<20)
	v.SetDefault("schema_file", "")
}

// Load reads configuration. path names a YAML file; when empty, templr.yaml
// in the working directory is used if present. Environment variables
// (TEMPLR_<KEY>, plus DATABASE_URL, PORT, REDIS_URL and
// OTEL_EXPORTER_OTLP_ENDPOINT) take precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	for _, key := range v.AllKeys() {
		names := []string{key, "TEMPLR_" + strings.ToUpper(key)}
		if alias, ok := envAliases[key]; ok {
			names = append(names, alias)
		}
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("templr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:              v.GetString("database_url"),
		HTTPPort:                 v.GetInt("http_port"),
		Domain:                   strings.TrimRight(v.GetString("domain"), "/"),
		DispatchMode:             strings.ToLower(v.GetString("dispatch_mode")),
		WorkerID:                 v.GetString("worker_id"),
		WorkerConcurrency:        v.GetInt("worker_concurrency"),
		WorkerPollInterval:       v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:         v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval:  v.GetDuration("worker_heartbeat_interval"),
		HeartVisibilityExtension: v.GetDuration("worker_visibility_extension"),
		StorageBackend:           strings.ToLower(v.GetString("storage_backend")),
		StorageDir:               v.GetString("storage_dir"),
		MinioEndpoint:            v.GetString("minio_endpoint"),
		MinioAccessKey:           v.GetString("minio_access_key"),
		MinioSecretKey:           v.GetString("minio_secret_key"),
		MinioBucket:              v.GetString("minio_bucket"),
		MinioRegion:              v.GetString("minio_region"),
		MinioUseSSL:              v.GetBool("minio_use_ssl"),
		RedisURL:                 v.GetString("redis_url"),
		LogLevel:                 v.GetString("log_level"),
		LogFile:                  v.GetString("log_file"),
		OTELEndpoint:             v.GetString("otel_endpoint"),
		CheckpointEvery:          v.GetInt("checkpoint_every"),
		FailureThreshold:         v.GetFloat64("failure_threshold"),
		RecordRetention:          v.GetDuration("record_retention"),
		UploadRateLimit:          v.GetFloat64("upload_rate_limit"),
		UploadRateBurst:          v.GetInt("upload_rate_burst"),
		MaxUploadBytes:           v.GetInt64("max_upload_bytes"),
		SchemaFile:               v.GetString("schema_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	switch c.DispatchMode {
	case DispatchQueue, DispatchInline:
	default:
		return fmt.Errorf("invalid dispatch_mode %q (want %s or %s)", c.DispatchMode, DispatchQueue, DispatchInline)
	}
	switch c.StorageBackend {
	case StorageLocal:
		if c.StorageDir == "" {
			return fmt.Errorf("storage_dir is required for the local backend")
		}
	case StorageMinio:
		if c.MinioEndpoint == "" || c.MinioBucket == "" {
			return fmt.Errorf("minio_endpoint and minio_bucket are required for the minio backend")
		}
	default:
		return fmt.Errorf("invalid storage_backend %q (want %s or %s)", c.StorageBackend, StorageLocal, StorageMinio)
	}
	if c.FailureThreshold <= 0 || c.FailureThreshold > 1 {
		return fmt.Errorf("failure_threshold must be in (0, 1], got %v", c.FailureThreshold)
	}
	if c.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint_every must be positive, got %d", c.CheckpointEvery)
	}
	return nil
}
