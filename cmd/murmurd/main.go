// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Murmurd is the long-running murmur process. It logs in with the
// sealed keystore identity, runs one long refresh pass to fold any
// backlog accumulated while it was down, then ticks short refresh
// passes at the configured interval until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/murmur-net/murmur/bot"
	"github.com/murmur-net/murmur/lib/clock"
	"github.com/murmur-net/murmur/lib/config"
	"github.com/murmur-net/murmur/lib/keystore"
	"github.com/murmur-net/murmur/lib/pubs"
	"github.com/murmur-net/murmur/lib/refresh"
	"github.com/murmur-net/murmur/lib/secret"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		passphraseFile string
		statsInterval  time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to murmur.yaml (default: MURMUR_CONFIG)")
	flag.StringVar(&passphraseFile, "passphrase-file", "", "file holding the keystore passphrase (default: MURMUR_PASSPHRASE)")
	flag.DurationVar(&statsInterval, "stats-interval", 5*time.Minute, "how often to log a statistics snapshot")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	passphrase, err := loadPassphrase(passphraseFile)
	if err != nil {
		return err
	}
	creds, err := keystore.Unseal(cfg.KeystorePath, passphrase)
	if err != nil {
		return fmt.Errorf("unsealing keystore: %w", err)
	}
	defer creds.Close()

	var preloader pubs.Preloader
	if cfg.PubsBundle != "" {
		bundle, err := pubs.BundleFromFile(cfg.PubsBundle)
		if err != nil {
			return err
		}
		preloader = bundle
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := bot.Open(bot.Options{
		DataDir:      cfg.DataDir,
		PoolSize:     cfg.Storage.PoolSize,
		Compression:  cfg.CompressionTag(),
		RecentWindow: cfg.Stats.RecentWindow.Std(),
		ShortWindow:  cfg.Refresh.ShortWindow,
		BatchSize:    cfg.Refresh.BatchSize,
		Logger:       logger,
		Preloader:    preloader,
	})
	if err != nil {
		return err
	}
	if err := session.Login(ctx, creds.Network, creds.HMACKey, creds.Secret.Bytes()); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		if err := session.Logout(context.Background()); err != nil {
			logger.Error("logout failed", "error", err)
		}
		session.Exit()
	}()

	publicKey, err := session.Identity()
	if err != nil {
		return err
	}
	logger.Info("murmurd started",
		"identity", publicKey.String(),
		"data_dir", cfg.DataDir,
		"refresh_interval", cfg.Refresh.Interval.Std().String(),
	)

	return runLoop(ctx, session, logger, clock.Real(), cfg.Refresh.Interval.Std(), statsInterval)
}

// runLoop is the daemon's steady state: one long pass to fold the
// backlog accumulated while the daemon was down, then short refresh
// passes and statistics snapshots on their tickers until the context
// is cancelled. The clock is injected so tests drive the cadence
// without sleeping.
func runLoop(ctx context.Context, session *bot.Session, logger *slog.Logger, clk clock.Clock, refreshInterval, statsInterval time.Duration) error {
	if summary, err := session.Refresh(ctx, refresh.LongLoad); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial refresh: %w", err)
	} else if summary.Applied > 0 {
		logger.Info("startup backlog folded", "applied", summary.Applied)
	}

	refreshTicker := clk.NewTicker(refreshInterval)
	defer refreshTicker.Stop()
	statsTicker := clk.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case <-refreshTicker.C:
			summary, err := session.Refresh(ctx, refresh.ShortLoad)
			if err != nil {
				if ctx.Err() != nil {
					logger.Info("shutting down")
					return nil
				}
				// Storage errors are fatal; the supervisor restarts us.
				return fmt.Errorf("refresh: %w", err)
			}
			if summary.Applied > 0 || len(summary.Failures()) > 0 {
				logger.Info("refresh tick",
					"applied", summary.Applied,
					"failures", len(summary.Failures()),
				)
			}

		case <-statsTicker.C:
			snapshot, err := session.Statistics(ctx)
			if err != nil {
				logger.Error("statistics snapshot failed", "error", err)
				continue
			}
			logger.Info("statistics",
				"total", snapshot.TotalMessages,
				"published_by_local", snapshot.PublishedByLocal,
				"recently_downloaded", snapshot.RecentlyDownloaded,
			)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func loadPassphrase(path string) (string, error) {
	if path != "" {
		buffer, err := secret.ReadFromPath(path)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		defer buffer.Close()
		passphrase := buffer.String()
		for len(passphrase) > 0 && passphrase[len(passphrase)-1] == '\n' {
			passphrase = passphrase[:len(passphrase)-1]
		}
		return passphrase, nil
	}
	if passphrase := os.Getenv("MURMUR_PASSPHRASE"); passphrase != "" {
		return passphrase, nil
	}
	return "", fmt.Errorf("no passphrase: set MURMUR_PASSPHRASE or pass --passphrase-file")
}
