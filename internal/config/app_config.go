package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 8990.
	Port int `envconfig:"PORT" default:"8990"`

	// DataDir is the root data directory. Defaults to ~/.dispatchd.
	DataDir string `envconfig:"DISPATCHD_DATA_DIR"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// TickInterval is how often the dispatcher drains the queue.
	TickInterval time.Duration `envconfig:"DISPATCHD_TICK_INTERVAL" default:"1s"`

	// BatchSize caps the number of notifications dispatched per tick.
	BatchSize int `envconfig:"DISPATCHD_BATCH_SIZE" default:"10"`

	// Retention is the age after which records are purged by the retention job.
	// Zero disables the job.
	Retention time.Duration `envconfig:"DISPATCHD_RETENTION" default:"720h"`

	// RetentionCron is the cron expression the retention job runs on.
	RetentionCron string `envconfig:"DISPATCHD_RETENTION_CRON" default:"0 3 * * *"`

	// StaleProcessingAfter resets records stuck in processing for longer than
	// this back to pending on startup. Zero disables reconciliation.
	StaleProcessingAfter time.Duration `envconfig:"DISPATCHD_STALE_PROCESSING_AFTER" default:"0"`

	// ProvidersFilePath overrides the providers YAML location.
	ProvidersFilePath string `envconfig:"DISPATCHD_PROVIDERS_FILE"`

	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `envconfig:"DISPATCHD_CORS_ORIGINS"`

	// OTLPEndpoint enables OpenTelemetry export when set (host:port, gRPC).
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads AppConfig from environment variables using envconfig.
// DataDir defaults to ~/.dispatchd if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".dispatchd")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the dispatcher cannot run with.
func (c *AppConfig) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("DISPATCHD_TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("DISPATCHD_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.Retention < 0 {
		return fmt.Errorf("DISPATCHD_RETENTION must not be negative, got %s", c.Retention)
	}
	if c.StaleProcessingAfter < 0 {
		return fmt.Errorf("DISPATCHD_STALE_PROCESSING_AFTER must not be negative, got %s", c.StaleProcessingAfter)
	}
	return nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (~/.dispatchd/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DBPath returns the path to the SQLite database file.
func (c *AppConfig) DBPath() string {
	return filepath.Join(c.DataDir, "dispatchd.db")
}

// ProvidersFile returns the path to the providers YAML file.
func (c *AppConfig) ProvidersFile() string {
	if c.ProvidersFilePath != "" {
		return c.ProvidersFilePath
	}
	return filepath.Join(c.DataDir, "providers.yaml")
}

// AllowedOrigins splits CORSOrigins into a list, dropping blanks.
func (c *AppConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
