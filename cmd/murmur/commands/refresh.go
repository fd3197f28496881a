// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
	"github.com/murmur-net/murmur/lib/refresh"
)

func refreshCommand() *cli.Command {
	var common commonFlags
	var long bool

	return &cli.Command{
		Name:    "refresh",
		Summary: "fold feed backlog into the view store",
		Description: `Runs one refresh pass. By default a short pass drains a bounded
recent window per feed; --long drains the full backlog.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
			common.register(flags)
			flags.BoolVar(&long, "long", false, "drain the full backlog")
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

			load := refresh.ShortLoad
			if long {
				load = refresh.LongLoad
			}
			summary, err := session.Refresh(ctx, load)
			if err != nil {
				return err
			}

			fmt.Printf("%s pass: %d applied across %d feeds\n", summary.Load, summary.Applied, len(summary.Feeds))
			for _, failure := range summary.Failures() {
				fmt.Printf("halted %s at %d: %s\n", failure.Author, failure.Sequence, failure.Kind)
			}
			return nil
		},
	}
}
