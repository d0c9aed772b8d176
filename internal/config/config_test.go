package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"klinesync/internal/domain"
)

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	os.Unsetenv("DATA_DIR")
	os.Unsetenv("LEDGER_PATH")
	os.Unsetenv("VISION_BASE_URL")
	os.Unsetenv("LOG_LEVEL")
}

func TestLoadFile(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/srv/klines"
  ledger_path: "/srv/klines/runs.db"
source:
  base_url: "https://mirror.example.com"
  start_date: "2020-06-01"
  request_timeout: "30s"
sync:
  concurrency: 8
  max_attempts: 5
  initial_backoff: "500ms"
  max_backoff: "10s"
  rate_limit_per_sec: 12.5
  local_io_abort_after: 3
logging:
  level: "debug"
  format: "json"
  dir: "/var/log/klinesync"
  max_size_mb: 32
  max_backups: 2
`)

	tmpFile, err := os.CreateTemp("", "kline-sync-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	clearEnvOverrides(t)

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/srv/klines" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/srv/klines")
	}
	if cfg.Storage.LedgerPath != "/srv/klines/runs.db" {
		t.Errorf("Storage.LedgerPath = %q, want %q", cfg.Storage.LedgerPath, "/srv/klines/runs.db")
	}

	// -- Source --
	if cfg.Source.BaseURL != "https://mirror.example.com" {
		t.Errorf("Source.BaseURL = %q, want %q", cfg.Source.BaseURL, "https://mirror.example.com")
	}
	start, err := cfg.StartDate()
	if err != nil {
		t.Fatalf("StartDate() returned error: %v", err)
	}
	if want := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Errorf("StartDate() = %v, want %v", start, want)
	}
	timeout, err := cfg.Source.Timeout()
	if err != nil {
		t.Fatalf("Timeout() returned error: %v", err)
	}
	if timeout != 30*time.Second {
		t.Errorf("Timeout() = %v, want %v", timeout, 30*time.Second)
	}

	// -- Sync --
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("Sync.Concurrency = %d, want %d", cfg.Sync.Concurrency, 8)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("Sync.MaxAttempts = %d, want %d", cfg.Sync.MaxAttempts, 5)
	}
	initial, max, err := cfg.Sync.Backoff()
	if err != nil {
		t.Fatalf("Backoff() returned error: %v", err)
	}
	if initial != 500*time.Millisecond || max != 10*time.Second {
		t.Errorf("Backoff() = %v, %v, want 500ms, 10s", initial, max)
	}
	if cfg.Sync.RateLimitPerSec != 12.5 {
		t.Errorf("Sync.RateLimitPerSec = %g, want %g", cfg.Sync.RateLimitPerSec, 12.5)
	}
	if cfg.Sync.LocalIOAbortAfter != 3 {
		t.Errorf("Sync.LocalIOAbortAfter = %d, want %d", cfg.Sync.LocalIOAbortAfter, 3)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.MaxSizeMB != 32 {
		t.Errorf("Logging.MaxSizeMB = %d, want %d", cfg.Logging.MaxSizeMB, 32)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "binance_data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "binance_data")
	}
	if cfg.Source.BaseURL != "https://data.binance.vision" {
		t.Errorf("Source.BaseURL = %q, want %q", cfg.Source.BaseURL, "https://data.binance.vision")
	}
	if cfg.Source.StartDate != "2017-01-01" {
		t.Errorf("Source.StartDate = %q, want %q", cfg.Source.StartDate, "2017-01-01")
	}
	if cfg.Sync.Concurrency != 5 {
		t.Errorf("Sync.Concurrency = %d, want %d", cfg.Sync.Concurrency, 5)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("Sync.MaxAttempts = %d, want %d", cfg.Sync.MaxAttempts, 3)
	}
	if cfg.Sync.LocalIOAbortAfter != 5 {
		t.Errorf("Sync.LocalIOAbortAfter = %d, want %d", cfg.Sync.LocalIOAbortAfter, 5)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	yamlContent := []byte(`
sync:
  concurrency: 2
`)

	tmpFile, err := os.CreateTemp("", "kline-sync-config-partial-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	clearEnvOverrides(t)

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Sync.Concurrency != 2 {
		t.Errorf("Sync.Concurrency = %d, want %d", cfg.Sync.Concurrency, 2)
	}
	// Everything the file does not mention stays at its default.
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("Sync.MaxAttempts = %d, want %d", cfg.Sync.MaxAttempts, 3)
	}
	if cfg.Storage.DataDir != "binance_data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "binance_data")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/original/data"
  ledger_path: "/original/runs.db"
`)

	tmpFile, err := os.CreateTemp("", "kline-sync-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("DATA_DIR", "/env/data")
	os.Setenv("VISION_BASE_URL", "https://proxy.example.com")
	os.Unsetenv("LEDGER_PATH")
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("DATA_DIR")
	defer os.Unsetenv("VISION_BASE_URL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Source.BaseURL != "https://proxy.example.com" {
		t.Errorf("Source.BaseURL = %q, want %q (env override)", cfg.Source.BaseURL, "https://proxy.example.com")
	}
	// ledger_path should remain from YAML since no env override was set.
	if cfg.Storage.LedgerPath != "/original/runs.db" {
		t.Errorf("Storage.LedgerPath = %q, want %q (from YAML)", cfg.Storage.LedgerPath, "/original/runs.db")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data_dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"empty ledger_path", func(c *Config) { c.Storage.LedgerPath = "" }},
		{"empty base_url", func(c *Config) { c.Source.BaseURL = "" }},
		{"zero concurrency", func(c *Config) { c.Sync.Concurrency = 0 }},
		{"zero max_attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }},
		{"negative rate limit", func(c *Config) { c.Sync.RateLimitPerSec = -1 }},
		{"zero io abort threshold", func(c *Config) { c.Sync.LocalIOAbortAfter = 0 }},
		{"bad start date", func(c *Config) { c.Source.StartDate = "June 2020" }},
		{"bad timeout", func(c *Config) { c.Source.RequestTimeout = "fast" }},
		{"negative backoff", func(c *Config) { c.Sync.InitialBackoff = "-1s" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if kind := domain.KindOf(err); kind != domain.KindInvalidConfig {
				t.Errorf("KindOf(err) = %q, want %q", kind, domain.KindInvalidConfig)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Validate() on defaults returned error: %v", err)
	}
}
