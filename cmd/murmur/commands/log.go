// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
)

func logCommand() *cli.Command {
	var common commonFlags
	var limit int

	return &cli.Command{
		Name:    "log",
		Summary: "show the materialized timeline",
		Description: `Prints the most recently applied messages, newest first. Only
records a refresh pass has materialized appear; run "murmur refresh"
first to fold fresh publishes and downloads in.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("log", pflag.ContinueOnError)
			common.register(flags)
			flags.IntVar(&limit, "limit", 20, "maximum messages to print")
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

			rows, err := session.Timeline(ctx, limit)
			if err != nil {
				return err
			}

			writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, row := range rows {
				fmt.Fprintf(writer, "%s\t%s@%d\t%s\t%s\n",
					row.AppliedAt.UTC().Format(time.RFC3339),
					row.Author,
					row.Sequence,
					row.ContentType,
					row.Body,
				)
			}
			return writer.Flush()
		},
	}
}
