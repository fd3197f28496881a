// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/keystore"
	"github.com/murmur-net/murmur/lib/secret"
)

func initCommand() *cli.Command {
	var common commonFlags
	var network string
	var hmacKeyHex string
	var force bool

	return &cli.Command{
		Name:    "init",
		Summary: "generate an identity and seal it to the keystore",
		Description: `Generates a fresh ed25519 identity, seals it to the configured
keystore path with the passphrase, and prints the public key. Refuses
to overwrite an existing keystore unless --force is given.

The network key is either 64 hex digits or a short name zero-padded
to 32 bytes.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
			common.register(flags)
			flags.StringVar(&network, "network", "", "network key (required)")
			flags.StringVar(&hmacKeyHex, "hmac-key", "", "network HMAC key as hex (optional)")
			flags.BoolVar(&force, "force", false, "overwrite an existing keystore")
			return flags
		},
		Run: func(args []string) error {
			cfg, err := common.loadConfig()
			if err != nil {
				return err
			}
			passphrase, err := common.passphrase()
			if err != nil {
				return err
			}
			networkKey, err := parseNetworkKey(network)
			if err != nil {
				return fmt.Errorf("--network: %w", err)
			}

			var hmacKey []byte
			if hmacKeyHex != "" {
				hmacKey, err = hex.DecodeString(hmacKeyHex)
				if err != nil {
					return fmt.Errorf("--hmac-key: %w", err)
				}
				if len(hmacKey) != identity.HMACKeySize {
					return fmt.Errorf("--hmac-key: got %d bytes, want %d", len(hmacKey), identity.HMACKeySize)
				}
			}

			if !force {
				exists, err := keystore.Exists(cfg.KeystorePath)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("keystore %s already exists (use --force to overwrite)", cfg.KeystorePath)
				}
			}

			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("generating seed: %w", err)
			}
			seedBuffer, err := secret.NewFromBytes(seed)
			if err != nil {
				return fmt.Errorf("protecting seed: %w", err)
			}
			defer seedBuffer.Close()

			// Derive the public key from a copy; identity construction
			// consumes the bytes it is given.
			seedCopy := append([]byte(nil), seedBuffer.Bytes()...)
			var hmacCopy []byte
			if hmacKey != nil {
				hmacCopy = append([]byte(nil), hmacKey...)
			}
			id, err := identity.New(networkKey, hmacCopy, seedCopy)
			if err != nil {
				return err
			}
			publicKey := id.Public()
			id.Close()

			creds := &keystore.Credentials{
				Network: networkKey,
				HMACKey: hmacKey,
				Secret:  seedBuffer,
			}
			if err := keystore.Seal(cfg.KeystorePath, passphrase, creds); err != nil {
				return err
			}

			fmt.Printf("identity %s\nkeystore %s\n", publicKey, cfg.KeystorePath)
			return nil
		},
	}
}
