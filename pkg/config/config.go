package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable recognized by the concurrency layer.
// Durations are expressed in milliseconds in the YAML file to keep the
// format free of Go-specific duration strings.
type Config struct {
	// LockTimeoutMs is the default wait budget for a pessimistic acquire
	// before it reports LockTimeout. Zero means no-wait.
	LockTimeoutMs int `yaml:"lock_timeout_ms"`

	// MaxOptimisticRetries is the retry ceiling before the default
	// conflict policy gives up on VersionMismatch.
	MaxOptimisticRetries int `yaml:"max_optimistic_retries"`

	// BackoffBaseMs and BackoffJitterMs shape the retry delay: capped
	// exponential growth from the base, plus a uniform random jitter.
	BackoffBaseMs   int `yaml:"backoff_base_ms"`
	BackoffJitterMs int `yaml:"backoff_jitter_ms"`

	// SyncOnCommit forces an fsync of the record log on every applied
	// batch. Durable but slow; off by default.
	SyncOnCommit bool `yaml:"sync_on_commit"`

	// CacheMaxBytes bounds the payload read cache.
	CacheMaxBytes int64 `yaml:"cache_max_bytes"`

	// SweepIntervalMs and MaxTxAgeMs drive abandoned-transaction
	// recovery: every interval, active transactions older than the max
	// age are rolled back and their locks released. A zero interval
	// disables the sweeper.
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
	MaxTxAgeMs      int `yaml:"max_tx_age_ms"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`
}

// Default returns a working configuration; Load overlays a YAML file on
// top of these values, so a partial file is fine.
func Default() Config {
	return Config{
		LockTimeoutMs:        1000,
		MaxOptimisticRetries: 5,
		BackoffBaseMs:        10,
		BackoffJitterMs:      10,
		SyncOnCommit:         false,
		CacheMaxBytes:        64 << 20,
		SweepIntervalMs:      10_000,
		MaxTxAgeMs:           60_000,
		LogLevel:             "INFO",
	}
}

// Load reads a YAML configuration file using strict parsing: unknown
// keys are an error rather than being silently dropped.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.LockTimeoutMs < 0 {
		return fmt.Errorf("lock_timeout_ms must be >= 0, got %d", c.LockTimeoutMs)
	}
	if c.MaxOptimisticRetries < 0 {
		return fmt.Errorf("max_optimistic_retries must be >= 0, got %d", c.MaxOptimisticRetries)
	}
	if c.BackoffBaseMs <= 0 {
		return fmt.Errorf("backoff_base_ms must be > 0, got %d", c.BackoffBaseMs)
	}
	if c.BackoffJitterMs < 0 {
		return fmt.Errorf("backoff_jitter_ms must be >= 0, got %d", c.BackoffJitterMs)
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("cache_max_bytes must be > 0, got %d", c.CacheMaxBytes)
	}
	if c.SweepIntervalMs < 0 {
		return fmt.Errorf("sweep_interval_ms must be >= 0, got %d", c.SweepIntervalMs)
	}
	if c.MaxTxAgeMs < 0 {
		return fmt.Errorf("max_tx_age_ms must be >= 0, got %d", c.MaxTxAgeMs)
	}
	return nil
}

// LockTimeout returns the default pessimistic wait budget as a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

// BackoffBase returns the retry backoff base as a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffJitter returns the retry jitter bound as a duration.
func (c Config) BackoffJitter() time.Duration {
	return time.Duration(c.BackoffJitterMs) * time.Millisecond
}

// SweepInterval returns the abandoned-transaction sweep cadence.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// MaxTxAge returns the age past which an active transaction is presumed
// abandoned and rolled back by the sweeper.
func (c Config) MaxTxAge() time.Duration {
	return time.Duration(c.MaxTxAgeMs) * time.Millisecond
}
