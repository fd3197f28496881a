// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package stats summarizes the materialized message view: total
// message count, how many the local identity published, and how many
// arrived within a rolling recency window.
//
// Recency is ingestion time. The window is anchored at the injected
// clock's now and measured against when each row was applied, so the
// numbers are testable without sleeping and indifferent to whatever
// timestamps feed authors claim.
package stats
