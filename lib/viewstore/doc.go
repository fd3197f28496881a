// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package viewstore materializes applied feed records into a queryable
// SQLite database: one denormalized row per message plus one watermark
// row per feed.
//
// The store's core invariant is that a message row and the watermark
// covering it commit in the same transaction. A crash mid-refresh can
// lose an in-flight batch, but it can never leave a row the watermark
// does not account for or a watermark claiming rows that are missing —
// which is exactly what makes refresh resumable and idempotent.
//
// All writes go through Apply (the refresh engine) or ResetFeed (the
// explicit resync escape hatch). Everything else is read-only.
package viewstore
