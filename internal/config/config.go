package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"klinesync/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kline sync tooling.
type Config struct {
	Storage Storage `yaml:"storage"`
	Source  Source  `yaml:"source"`
	Sync    Sync    `yaml:"sync"`
	Logging Logging `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	LedgerPath string `yaml:"ledger_path"`
}

// Source describes the upstream archive host.
type Source struct {
	BaseURL        string `yaml:"base_url"`
	StartDate      string `yaml:"start_date"`
	RequestTimeout string `yaml:"request_timeout"`
}

// Sync holds parameters for the transfer pipeline.
type Sync struct {
	Concurrency       int     `yaml:"concurrency"`
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialBackoff    string  `yaml:"initial_backoff"`
	MaxBackoff        string  `yaml:"max_backoff"`
	RateLimitPerSec   float64 `yaml:"rate_limit_per_sec"`
	LocalIOAbortAfter int     `yaml:"local_io_abort_after"`
}

// Logging configures the application logger and the per-run log files.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "binance_data",
			LedgerPath: "binance_data/kline-sync.db",
		},
		Source: Source{
			BaseURL:        "https://data.binance.vision",
			StartDate:      "2017-01-01",
			RequestTimeout: "1m",
		},
		Sync: Sync{
			Concurrency:       5,
			MaxAttempts:       3,
			InitialBackoff:    "1s",
			MaxBackoff:        "30s",
			RateLimitPerSec:   0,
			LocalIOAbortAfter: 5,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			Dir:        "logs",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path into the defaults,
// applies environment variable overrides, and validates the result. A missing
// file is not an error: the defaults already describe a working setup.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Run on defaults.
	case err != nil:
		return nil, domain.NewInvalidConfig(fmt.Sprintf("reading %s", path), err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewInvalidConfig(fmt.Sprintf("parsing %s", path), err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("LEDGER_PATH"); v != "" {
		cfg.Storage.LedgerPath = v
	}

	if v := os.Getenv("VISION_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Validation and typed accessors
// ---------------------------------------------------------------------------

// Validate rejects configurations the pipeline cannot run with. All failures
// carry the invalid-configuration error kind.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return domain.NewInvalidConfig("storage.data_dir must not be empty", nil)
	}
	if c.Storage.LedgerPath == "" {
		return domain.NewInvalidConfig("storage.ledger_path must not be empty", nil)
	}
	if c.Source.BaseURL == "" {
		return domain.NewInvalidConfig("source.base_url must not be empty", nil)
	}
	if c.Sync.Concurrency < 1 {
		return domain.NewInvalidConfig(fmt.Sprintf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency), nil)
	}
	if c.Sync.MaxAttempts < 1 {
		return domain.NewInvalidConfig(fmt.Sprintf("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts), nil)
	}
	if c.Sync.RateLimitPerSec < 0 {
		return domain.NewInvalidConfig(fmt.Sprintf("sync.rate_limit_per_sec must not be negative, got %g", c.Sync.RateLimitPerSec), nil)
	}
	if c.Sync.LocalIOAbortAfter < 1 {
		return domain.NewInvalidConfig(fmt.Sprintf("sync.local_io_abort_after must be at least 1, got %d", c.Sync.LocalIOAbortAfter), nil)
	}

	if _, err := c.StartDate(); err != nil {
		return err
	}
	if _, err := c.Source.Timeout(); err != nil {
		return err
	}
	if _, _, err := c.Sync.Backoff(); err != nil {
		return err
	}
	return nil
}

// StartDate returns source.start_date as a UTC day.
func (c *Config) StartDate() (time.Time, error) {
	ts, err := time.ParseInLocation("2006-01-02", c.Source.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, domain.NewInvalidConfig(
			fmt.Sprintf("source.start_date %q is not a YYYY-MM-DD date", c.Source.StartDate), err)
	}
	return ts, nil
}

// Timeout returns source.request_timeout as a duration.
func (s Source) Timeout() (time.Duration, error) {
	return parseDuration("source.request_timeout", s.RequestTimeout)
}

// Backoff returns the initial and maximum retry delays.
func (s Sync) Backoff() (initial, max time.Duration, err error) {
	initial, err = parseDuration("sync.initial_backoff", s.InitialBackoff)
	if err != nil {
		return 0, 0, err
	}
	max, err = parseDuration("sync.max_backoff", s.MaxBackoff)
	if err != nil {
		return 0, 0, err
	}
	return initial, max, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, domain.NewInvalidConfig(fmt.Sprintf("%s %q is not a duration", field, value), err)
	}
	if d <= 0 {
		return 0, domain.NewInvalidConfig(fmt.Sprintf("%s must be positive, got %q", field, value), nil)
	}
	return d, nil
}
