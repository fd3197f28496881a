// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/bot"
	"github.com/murmur-net/murmur/lib/config"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/keystore"
	"github.com/murmur-net/murmur/lib/pubs"
	"github.com/murmur-net/murmur/lib/secret"
)

// commonFlags holds the flags shared by every session-backed command.
type commonFlags struct {
	configPath     string
	passphraseFile string
}

func (f *commonFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.configPath, "config", "", "path to murmur.yaml (default: MURMUR_CONFIG)")
	flags.StringVar(&f.passphraseFile, "passphrase-file", "", "file holding the keystore passphrase (default: MURMUR_PASSPHRASE)")
}

// loadConfig loads configuration from the flag, the environment, or
// defaults.
func (f *commonFlags) loadConfig() (*config.Config, error) {
	if f.configPath != "" {
		return config.LoadFile(f.configPath)
	}
	return config.Load()
}

// passphrase resolves the keystore passphrase from the flag or the
// environment.
func (f *commonFlags) passphrase() (string, error) {
	if f.passphraseFile != "" {
		buffer, err := secret.ReadFromPath(f.passphraseFile)
		if err != nil {
			return "", fmt.Errorf("reading passphrase file: %w", err)
		}
		defer buffer.Close()
		return strings.TrimRight(buffer.String(), "\n"), nil
	}
	if passphrase := os.Getenv("MURMUR_PASSPHRASE"); passphrase != "" {
		return passphrase, nil
	}
	return "", fmt.Errorf("no passphrase: set MURMUR_PASSPHRASE or pass --passphrase-file")
}

// newLogger builds the command logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
}

// openSession unseals the keystore and logs in a session built from
// the configuration. The returned cleanup logs out and retires the
// session.
func openSession(ctx context.Context, cfg *config.Config, passphrase string) (*bot.Session, func(), error) {
	creds, err := keystore.Unseal(cfg.KeystorePath, passphrase)
	if err != nil {
		return nil, nil, err
	}
	defer creds.Close()

	var preloader pubs.Preloader
	if cfg.PubsBundle != "" {
		bundle, err := pubs.BundleFromFile(cfg.PubsBundle)
		if err != nil {
			return nil, nil, err
		}
		preloader = bundle
	}

	session, err := bot.Open(bot.Options{
		DataDir:      cfg.DataDir,
		PoolSize:     cfg.Storage.PoolSize,
		Compression:  cfg.CompressionTag(),
		RecentWindow: cfg.Stats.RecentWindow.Std(),
		ShortWindow:  cfg.Refresh.ShortWindow,
		BatchSize:    cfg.Refresh.BatchSize,
		Logger:       newLogger(cfg),
		Preloader:    preloader,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := session.Login(ctx, creds.Network, creds.HMACKey, creds.Secret.Bytes()); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := session.Logout(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: logout: %v\n", err)
		}
		session.Exit()
	}
	return session, cleanup, nil
}

// parseNetworkKey parses a network key given either as 64 hex digits
// or as a short ASCII name zero-padded to 32 bytes.
func parseNetworkKey(s string) (identity.NetworkKey, error) {
	var key identity.NetworkKey
	if s == "" {
		return key, fmt.Errorf("network key is empty")
	}
	if len(s) == hex.EncodedLen(len(key)) {
		if decoded, err := hex.DecodeString(s); err == nil {
			copy(key[:], decoded)
			return key, nil
		}
	}
	if len(s) > len(key) {
		return key, fmt.Errorf("network name %q longer than %d bytes", s, len(key))
	}
	copy(key[:], s)
	return key, nil
}
