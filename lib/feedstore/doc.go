// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package feedstore persists the append-only log: every known feed's
// signed records, the local identity's included. It is the source of
// truth — the view store is a derived materialization that a full
// replay can always rebuild from here.
//
// Storage is one SQLite database (via lib/sqlitepool) holding the
// signed canonical encoding of each record, optionally compressed
// (none/lz4/zstd, tagged per row). Extracted columns support the three
// access patterns the rest of the system needs: highest sequence per
// feed, ordered scan of a feed from a sequence offset, and point
// lookup by content ID.
//
// Appends to one feed are serialized by a per-feed mutex around a
// read-tip/validate/insert transaction, which is what makes the
// publisher's single-writer sequence invariant hold under concurrent
// publish calls. Appends to different feeds do not contend.
package feedstore
