// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package pubs seeds fresh stores with well-known relay endpoints.
//
// A bundle file (JSONC, so it can carry comments) lists pub endpoints;
// parsed bundles implement the Preloader capability the session
// invokes once per store lifetime, publishing one announcement record
// per pub into the local feed.
package pubs
