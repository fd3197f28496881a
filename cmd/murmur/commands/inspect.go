// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
	"github.com/murmur-net/murmur/lib/codec"
	"github.com/murmur-net/murmur/lib/feed"
)

func inspectCommand() *cli.Command {
	var common commonFlags

	return &cli.Command{
		Name:    "inspect",
		Summary: "show a stored record by ID",
		Usage:   "murmur inspect [flags] <record-id>",
		Description: `Looks a record up in the feed store by its content identifier and
prints its fields plus the CBOR diagnostic notation of its canonical
encoding.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			common.register(flags)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one record ID required")
			}
			recordID, err := feed.ParseRecordID(args[0])
			if err != nil {
				return err
			}

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

			record, err := session.Lookup(ctx, recordID)
			if err != nil {
				return err
			}
			if record == nil {
				return fmt.Errorf("record %s not found", recordID)
			}

			fmt.Printf("author:    %s\n", record.Author)
			fmt.Printf("sequence:  %d\n", record.Sequence)
			if record.Previous != nil {
				fmt.Printf("previous:  %s\n", record.Previous)
			}
			fmt.Printf("timestamp: %s\n", time.UnixMilli(record.Timestamp).UTC().Format(time.RFC3339))
			fmt.Printf("type:      %s\n", record.Content.Type)
			if record.Content.Root != nil {
				fmt.Printf("root:      %s\n", record.Content.Root)
			}
			fmt.Printf("body:      %s\n", record.Content.Body)

			encoded, err := record.SignedBytes()
			if err != nil {
				return err
			}
			notation, err := codec.Diagnose(encoded)
			if err != nil {
				return fmt.Errorf("diagnosing record encoding: %w", err)
			}
			fmt.Printf("encoding:  %s\n", notation)
			return nil
		},
	}
}
