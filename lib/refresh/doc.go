// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package refresh reconciles the append-only feed store against the
// materialized view store.
//
// A pass walks every known feed, compares the feed store's highest
// sequence number with the view store's watermark, and drains the
// difference in sequence order: validate chain continuity and
// signature, then apply rows and advance the watermark in one
// transaction (lib/viewstore owns that atomicity).
//
// Failure discipline: integrity errors are per-feed and fail-soft —
// one corrupt feed halts only itself, is reported in the Summary, and
// never blocks the other feeds. Storage errors and cancellation fail
// the whole pass, but always between transactions, so watermarks land
// on fully-applied values and the next pass resumes where this one
// stopped.
package refresh
