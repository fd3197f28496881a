// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for murmur commands.
//
// Configuration comes from a single YAML file named by the
// MURMUR_CONFIG environment variable or a --config flag; with neither
// set, built-in defaults apply. There is no other discovery and no
// environment-variable overrides, so a node's effective configuration
// is always auditable from one file. The only expansion performed is
// ${HOME} and similar path variables.
package config
