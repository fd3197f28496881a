// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
)

func statsCommand() *cli.Command {
	var common commonFlags

	return &cli.Command{
		Name:    "stats",
		Summary: "show view store statistics",
		Description: `Prints a point-in-time snapshot of the materialized view: total
messages, messages published by the local identity, and messages
downloaded within the recency window.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("stats", pflag.ContinueOnError)
			common.register(flags)
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

			ctx := context.Background()
			session, cleanup, err := openSession(ctx, cfg, passphrase)
			if err != nil {
				return err
			}
			defer cleanup()

			snapshot, err := session.Statistics(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("total messages:      %d\n", snapshot.TotalMessages)
			fmt.Printf("published by local:  %d\n", snapshot.PublishedByLocal)
			fmt.Printf("recently downloaded: %d (window %s)\n", snapshot.RecentlyDownloaded, snapshot.RecentWindow)
			return nil
		},
	}
}
