// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/murmur-net/murmur/lib/feedstore"
	"github.com/murmur-net/murmur/lib/stats"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "15m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for a murmur node.
type Config struct {
	// DataDir is the base directory for databases and key material.
	DataDir string `yaml:"data_dir"`

	// KeystorePath is the sealed identity file. Defaults to
	// identity.age under DataDir.
	KeystorePath string `yaml:"keystore_path"`

	// PubsBundle is an optional JSONC bundle of relay endpoints to
	// preload into a fresh store.
	PubsBundle string `yaml:"pubs_bundle,omitempty"`

	// Storage configures the sqlite stores.
	Storage StorageConfig `yaml:"storage"`

	// Refresh configures the refresh engine.
	Refresh RefreshConfig `yaml:"refresh"`

	// Stats configures statistics snapshots.
	Stats StatsConfig `yaml:"stats"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// StorageConfig configures the sqlite stores.
type StorageConfig struct {
	// PoolSize is the connection pool size per store.
	// Default: 4
	PoolSize int `yaml:"pool_size"`

	// Compression selects at-rest record compression: none, lz4, or
	// zstd.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// RefreshConfig configures the refresh engine.
type RefreshConfig struct {
	// Interval is how often the daemon runs a short refresh pass.
	// Default: 1m
	Interval Duration `yaml:"interval"`

	// ShortWindow bounds the records a short pass drains per feed.
	// Default: 64
	ShortWindow int `yaml:"short_window"`

	// BatchSize bounds the records applied per transaction.
	// Default: 32
	BatchSize int `yaml:"batch_size"`
}

// StatsConfig configures statistics snapshots.
type StatsConfig struct {
	// RecentWindow is how far back "recently downloaded" reaches.
	// Default: 15m
	RecentWindow Duration `yaml:"recent_window"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. The config file is
// optional — unlike most knobs, a node can run entirely on defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultData := filepath.Join(homeDir, ".local", "share", "murmur")

	return &Config{
		DataDir:      defaultData,
		KeystorePath: filepath.Join(defaultData, "identity.age"),
		Storage: StorageConfig{
			PoolSize:    4,
			Compression: "zstd",
		},
		Refresh: RefreshConfig{
			Interval:    Duration(time.Minute),
			ShortWindow: 64,
			BatchSize:   32,
		},
		Stats: StatsConfig{
			RecentWindow: Duration(stats.DefaultRecentWindow),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the MURMUR_CONFIG environment
// variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv("MURMUR_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// defaults. The file is the single source of truth — environment
// variables do not override values, only ${VAR} path expansion runs.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.DataDir = expandVars(c.DataDir, vars)
	vars["MURMUR_DATA"] = c.DataDir // Update for dependent paths.

	c.KeystorePath = expandVars(c.KeystorePath, vars)
	c.PubsBundle = expandVars(c.PubsBundle, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	if c.Storage.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be positive"))
	}
	if _, err := feedstore.ParseCompressionTag(c.Storage.Compression); err != nil {
		errs = append(errs, fmt.Errorf("storage.compression: %w", err))
	}
	if c.Refresh.Interval <= 0 {
		errs = append(errs, fmt.Errorf("refresh.interval must be positive"))
	}
	if c.Refresh.ShortWindow <= 0 {
		errs = append(errs, fmt.Errorf("refresh.short_window must be positive"))
	}
	if c.Refresh.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("refresh.batch_size must be positive"))
	}
	if c.Stats.RecentWindow <= 0 {
		errs = append(errs, fmt.Errorf("stats.recent_window must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the data directory if it does not exist.
func (c *Config) EnsurePaths() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("config: creating %s: %w", c.DataDir, err)
	}
	return nil
}

// FeedDBPath returns the feed store database path.
func (c *Config) FeedDBPath() string {
	return filepath.Join(c.DataDir, "feeds.db")
}

// ViewDBPath returns the view store database path.
func (c *Config) ViewDBPath() string {
	return filepath.Join(c.DataDir, "view.db")
}

// CompressionTag returns the parsed storage compression tag. Call
// Validate first; an unparseable value falls back to none here.
func (c *Config) CompressionTag() feedstore.CompressionTag {
	tag, err := feedstore.ParseCompressionTag(c.Storage.Compression)
	if err != nil {
		return feedstore.CompressionNone
	}
	return tag
}

// LogLevel returns the parsed slog level. Call Validate first; an
// unparseable value falls back to info here.
func (c *Config) LogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn, or error (got %q)", s)
	}
}
