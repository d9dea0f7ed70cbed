// Package config loads runtime settings from WOT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Prefix is the environment variable prefix, e.g. WOT_DB_PATH.
const Prefix = "WOT"

// Config holds the settings shared by the CLI and the daemon.
type Config struct {
	DBPath   string `envconfig:"DB_PATH"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Seed identities every new own identity trusts.
	SeedKeys    []string `envconfig:"SEED_KEYS"`
	SeedComment string   `envconfig:"SEED_COMMENT" default:"I trust the seed identities."`

	// Directory-backed document network
	DocumentDir string `envconfig:"DOCUMENT_DIR"`

	FetchWorkers    int           `envconfig:"FETCH_WORKERS" default:"4"`
	FetchMaxElapsed time.Duration `envconfig:"FETCH_MAX_ELAPSED" default:"30s"`

	InsertInterval time.Duration `envconfig:"INSERT_INTERVAL" default:"1m"`
	InsertMinDelay time.Duration `envconfig:"INSERT_MIN_DELAY" default:"0s"`
	InsertMaxDelay time.Duration `envconfig:"INSERT_MAX_DELAY" default:"10m"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9464"`

	TxTimeout        time.Duration `envconfig:"TX_TIMEOUT" default:"30s"`
	MaxCommentLength int           `envconfig:"MAX_COMMENT_LENGTH" default:"256"`
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.FetchWorkers < 1 {
		errs = append(errs, fmt.Errorf("FETCH_WORKERS must be at least 1, got %d", c.FetchWorkers))
	}
	if c.FetchMaxElapsed <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_ELAPSED must be positive, got %s", c.FetchMaxElapsed))
	}
	if c.InsertInterval <= 0 {
		errs = append(errs, fmt.Errorf("INSERT_INTERVAL must be positive, got %s", c.InsertInterval))
	}
	if c.InsertMinDelay < 0 || c.InsertMaxDelay < c.InsertMinDelay {
		errs = append(errs, fmt.Errorf("INSERT_MIN_DELAY %s and INSERT_MAX_DELAY %s out of order", c.InsertMinDelay, c.InsertMaxDelay))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TX_TIMEOUT must be positive, got %s", c.TxTimeout))
	}
	if c.MaxCommentLength < 0 {
		errs = append(errs, fmt.Errorf("MAX_COMMENT_LENGTH must not be negative, got %d", c.MaxCommentLength))
	}
	for i, key := range c.SeedKeys {
		c.SeedKeys[i] = strings.TrimSpace(key)
	}
	return errors.Join(errs...)
}

// New parses the environment, validates the result and logs it.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("log_level", cfg.LogLevel).
		Int("seeds", len(cfg.SeedKeys)).
		Str("document_dir", cfg.DocumentDir).
		Int("fetch_workers", cfg.FetchWorkers).
		Dur("insert_interval", cfg.InsertInterval).
		Str("metrics_addr", cfg.MetricsAddr).
		Dur("tx_timeout", cfg.TxTimeout).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns the defaults without reading the environment.
func NewForTesting() *Config {
	return &Config{
		LogLevel:         "debug",
		SeedComment:      "I trust the seed identities.",
		FetchWorkers:     2,
		FetchMaxElapsed:  time.Second,
		InsertInterval:   time.Minute,
		InsertMaxDelay:   10 * time.Minute,
		MetricsAddr:      "127.0.0.1:0",
		TxTimeout:        5 * time.Second,
		MaxCommentLength: 256,
	}
}
