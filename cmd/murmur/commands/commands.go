// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"github.com/murmur-net/murmur/cmd/murmur/cli"
)

// Root returns the murmur command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "murmur",
		Summary: "local append-only feed bot",
		Description: `Murmur maintains a cryptographically-identified append-only message
feed, ingests replicated peer feeds, and materializes them into a
queryable view store.

Configuration comes from the file named by MURMUR_CONFIG or the
--config flag; with neither, built-in defaults apply. The keystore
passphrase comes from MURMUR_PASSPHRASE or --passphrase-file.`,
		Subcommands: []*cli.Command{
			initCommand(),
			publishCommand(),
			refreshCommand(),
			statsCommand(),
			logCommand(),
			inspectCommand(),
		},
	}
}
