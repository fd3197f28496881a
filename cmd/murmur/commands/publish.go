// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/murmur-net/murmur/cmd/murmur/cli"
	"github.com/murmur-net/murmur/lib/feed"
)

func publishCommand() *cli.Command {
	var common commonFlags
	var contentType string
	var root string

	return &cli.Command{
		Name:    "publish",
		Summary: "append a record to the local feed",
		Usage:   "murmur publish [flags] <body>",
		Description: `Appends one signed record with the given body to the local feed and
prints its record ID. The record is materialized into the view store
by the next refresh pass.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("publish", pflag.ContinueOnError)
			common.register(flags)
			flags.StringVar(&contentType, "type", "post", "content type")
			flags.StringVar(&root, "root", "", "record ID this record replies to")
			return flags
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("body required")
			}
			body := strings.Join(args, " ")

			content := feed.Content{Type: contentType, Body: body}
			if root != "" {
				rootID, err := feed.ParseRecordID(root)
				if err != nil {
					return fmt.Errorf("--root: %w", err)
				}
				content.Root = &rootID
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

			recordID, err := session.Publish(ctx, content)
			if err != nil {
				return err
			}
			fmt.Println(recordID)
			return nil
		},
	}
}
