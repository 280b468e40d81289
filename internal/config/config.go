package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Environment represents the build flavour the client runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

const (
	developmentBaseURL = "http://localhost:3001/api"
	productionBaseURL  = "https://beta.iriseller.com/api"
)

// Store drivers accepted by StoreDriver.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Config holds the configuration for the sync core.
// Environment variables are parsed from the IRISELLER_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// BaseURL overrides the environment-derived API base URL when set.
	BaseURL string `envconfig:"BASE_URL" default:""`

	// HTTP / retry
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	RetryCount  int           `envconfig:"RETRY_COUNT" default:"3"`
	RetryDelay  time.Duration `envconfig:"RETRY_DELAY" default:"1s"`

	// Read cache freshness window
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	// Ledger abandonment threshold
	MaxSyncAttempts int `envconfig:"MAX_SYNC_ATTEMPTS" default:"3"`

	// Persistence
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	StorePath   string `envconfig:"STORE_PATH" default:"./data/iriseller.db"`

	// Connectivity probing against the health endpoint
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"15s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    Flag   `envconfig:"DEBUG" default:"false"`
}

// Flag is a boolean setting that reads an empty value as false, so an
// exported-but-blank variable behaves like an unset one.
type Flag bool

// Decode implements envconfig.Decoder.
func (f *Flag) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*f = false
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean %q: %w", value, err)
	}
	*f = Flag(b)
	return nil
}

// ResolveDefaults validates the environment and derives BaseURL when empty.
func (c *Config) ResolveDefaults() error {
	switch c.Environment {
	case EnvDevelopment, EnvTesting:
		if c.BaseURL == "" {
			c.BaseURL = developmentBaseURL
		}
	case EnvProduction:
		if c.BaseURL == "" {
			c.BaseURL = productionBaseURL
		}
	default:
		return fmt.Errorf("unsupported ENVIRONMENT: %s", c.Environment)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	switch c.StoreDriver {
	case StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.StoreDriver == StoreSQLite && c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required for the sqlite driver")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be > 0")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("RETRY_COUNT must be >= 0")
	}
	if c.MaxSyncAttempts <= 0 {
		return fmt.Errorf("MAX_SYNC_ATTEMPTS must be > 0")
	}
	return nil
}

// New creates a Config by parsing environment variables.
// Example: IRISELLER_ENVIRONMENT=production, IRISELLER_STORE_PATH=/tmp/iris.db
func New(log zerolog.Logger) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("IRISELLER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("environment", string(cfg.Environment)).
		Str("base_url", cfg.BaseURL).
		Dur("http_timeout", cfg.HTTPTimeout).
		Int("retry_count", cfg.RetryCount).
		Dur("retry_delay", cfg.RetryDelay).
		Str("store_driver", cfg.StoreDriver).
		Str("store_path", cfg.StorePath).
		Bool("debug", bool(cfg.Debug)).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns an in-memory configuration with near-zero delays.
func NewForTesting() *Config {
	return &Config{
		Environment:     EnvTesting,
		BaseURL:         developmentBaseURL,
		HTTPTimeout:     5 * time.Second,
		RetryCount:      3,
		RetryDelay:      time.Millisecond,
		CacheTTL:        5 * time.Minute,
		MaxSyncAttempts: 3,
		StoreDriver:     StoreMemory,
		ProbeInterval:   time.Second,
		LogLevel:        "disabled",
	}
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}
