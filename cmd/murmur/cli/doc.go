// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind the murmur
// command: named subcommands, pflag flag sets, and structured help.
package cli
