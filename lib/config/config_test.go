// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/murmur-net/murmur/lib/config"
	"github.com/murmur-net/murmur/lib/feedstore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "murmur.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	if cfg.Storage.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", cfg.Storage.PoolSize)
	}
	if cfg.Storage.Compression != "zstd" {
		t.Errorf("Compression = %q, want zstd", cfg.Storage.Compression)
	}
	if cfg.Refresh.ShortWindow != 64 {
		t.Errorf("ShortWindow = %d, want 64", cfg.Refresh.ShortWindow)
	}
	if cfg.Stats.RecentWindow.Std() != 15*time.Minute {
		t.Errorf("RecentWindow = %v, want 15m", cfg.Stats.RecentWindow.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/murmur-test
storage:
  compression: lz4
refresh:
  interval: 30s
  short_window: 16
stats:
  recent_window: 1h
log:
  level: debug
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DataDir != "/tmp/murmur-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Storage.Compression != "lz4" {
		t.Errorf("Compression = %q, want lz4", cfg.Storage.Compression)
	}
	// Unset fields keep their defaults.
	if cfg.Storage.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want default 4", cfg.Storage.PoolSize)
	}
	if cfg.Refresh.Interval.Std() != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Refresh.Interval.Std())
	}
	if cfg.Refresh.ShortWindow != 16 {
		t.Errorf("ShortWindow = %d, want 16", cfg.Refresh.ShortWindow)
	}
	if cfg.Refresh.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want default 32", cfg.Refresh.BatchSize)
	}
	if cfg.Stats.RecentWindow.Std() != time.Hour {
		t.Errorf("RecentWindow = %v, want 1h", cfg.Stats.RecentWindow.Std())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel())
	}
	if cfg.CompressionTag() != feedstore.CompressionLZ4 {
		t.Errorf("CompressionTag = %v, want lz4", cfg.CompressionTag())
	}
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"bad compression": "storage:\n  compression: brotli\n",
		"bad level":       "log:\n  level: loud\n",
		"zero pool":       "storage:\n  pool_size: -1\n",
		"bad duration":    "refresh:\n  interval: soon\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, content)
			if _, err := config.LoadFile(path); err == nil {
				t.Errorf("LoadFile accepted %q", content)
			}
		})
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	path := writeConfig(t, `
data_dir: ${HOME}/murmur
keystore_path: ${MURMUR_DATA}/keys/identity.age
`)

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DataDir != "/home/tester/murmur" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.KeystorePath != "/home/tester/murmur/keys/identity.age" {
		t.Errorf("KeystorePath = %q", cfg.KeystorePath)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/data/murmur"

	if got := cfg.FeedDBPath(); got != "/data/murmur/feeds.db" {
		t.Errorf("FeedDBPath = %q", got)
	}
	if got := cfg.ViewDBPath(); got != "/data/murmur/view.db" {
		t.Errorf("ViewDBPath = %q", got)
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv("MURMUR_CONFIG", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", cfg.Storage.PoolSize)
	}
}

func TestLoadFileMissingFileFails(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading") {
		t.Errorf("LoadFile absent = %v, want read error", err)
	}
}
