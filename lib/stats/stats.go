// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/murmur-net/murmur/lib/clock"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/viewstore"
)

// DefaultRecentWindow is how far back "recently downloaded" reaches
// when the configuration does not override it.
const DefaultRecentWindow = 15 * time.Minute

// Snapshot is a point-in-time summary of the message view.
type Snapshot struct {
	// TotalMessages counts every materialized message across all
	// feeds.
	TotalMessages int64

	// PublishedByLocal counts materialized messages authored by the
	// local identity. Messages published but not yet folded in by a
	// refresh pass are not included.
	PublishedByLocal int64

	// RecentlyDownloaded counts messages applied within RecentWindow
	// of the snapshot, measured by ingestion time — when the refresh
	// pass materialized the row, not when the author claims to have
	// written it. A peer's year-old backlog fetched this minute is
	// entirely "recent".
	RecentlyDownloaded int64

	// RecentWindow is the window RecentlyDownloaded was measured
	// over.
	RecentWindow time.Duration

	// TakenAt is when the snapshot was taken.
	TakenAt time.Time
}

// Collector computes snapshots against the view store.
type Collector struct {
	views  *viewstore.Store
	local  identity.PublicKey
	window time.Duration
	clock  clock.Clock
}

// Config holds the parameters for constructing a collector.
type Config struct {
	// Views is the materialized message view. Required.
	Views *viewstore.Store

	// Local is the local identity's public key, for the
	// published-by-local count.
	Local identity.PublicKey

	// RecentWindow overrides DefaultRecentWindow when positive.
	RecentWindow time.Duration

	// Clock anchors the recency window. Required.
	Clock clock.Clock
}

// New constructs a collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Views == nil {
		return nil, fmt.Errorf("stats: Views is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("stats: Clock is required")
	}
	window := cfg.RecentWindow
	if window <= 0 {
		window = DefaultRecentWindow
	}
	return &Collector{
		views:  cfg.Views,
		local:  cfg.Local,
		window: window,
		clock:  cfg.Clock,
	}, nil
}

// Snapshot reads the current counts. The three counts come from
// separate queries, so a refresh pass committing mid-snapshot can skew
// them against each other by one batch; snapshots are informational,
// not transactional.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	now := c.clock.Now()
	snapshot := Snapshot{
		RecentWindow: c.window,
		TakenAt:      now,
	}

	total, err := c.views.CountMessages(ctx)
	if err != nil {
		return snapshot, fmt.Errorf("stats: %w", err)
	}
	snapshot.TotalMessages = total

	published, err := c.views.CountByAuthor(ctx, c.local)
	if err != nil {
		return snapshot, fmt.Errorf("stats: %w", err)
	}
	snapshot.PublishedByLocal = published

	recent, err := c.views.CountAppliedSince(ctx, now.Add(-c.window))
	if err != nil {
		return snapshot, fmt.Errorf("stats: %w", err)
	}
	snapshot.RecentlyDownloaded = recent

	return snapshot, nil
}
