// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package feed defines the signed, hash-chained record that makes up
// an append-only feed, and the validation rules that keep a feed
// well-formed.
//
// A feed is one author's ordered sequence of records. Sequence numbers
// are contiguous starting at 1, and every record carries the BLAKE3
// content ID of its predecessor. A record's own ID is the domain-keyed
// BLAKE3 hash of its signed canonical CBOR encoding, so identical
// logical records hash identically on every peer (see lib/codec for
// the determinism guarantee).
//
// Validation failures are IntegrityErrors classified as ChainBroken,
// SignatureInvalid, or SequenceGap. They are always scoped to a single
// feed: one corrupt feed must never block ingestion or refresh of the
// others.
package feed
