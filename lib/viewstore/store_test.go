// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package viewstore_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/viewstore"
)

var (
	testNetwork = identity.NetworkKey{'t', 'e', 's', 't'}
	testEpoch   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func openTestStore(t *testing.T) *viewstore.Store {
	t.Helper()
	store, err := viewstore.Open(viewstore.Config{
		Path: filepath.Join(t.TempDir(), "view.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate(testNetwork, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	t.Cleanup(func() { id.Close() })
	return id
}

// buildChain produces a valid signed chain of length n.
func buildChain(t *testing.T, id *identity.Identity, n int) []feed.Record {
	t.Helper()
	records := make([]feed.Record, 0, n)
	var prev *feed.Record
	for i := 0; i < n; i++ {
		record, err := feed.Next(id, prev, testEpoch.Add(time.Duration(i)*time.Second), feed.Content{
			Type: "post",
			Body: "message",
		})
		if err != nil {
			t.Fatalf("Next(%d): %v", i+1, err)
		}
		records = append(records, record)
		prev = &records[len(records)-1]
	}
	return records
}

func TestApplyAdvancesWatermark(t *testing.T) {
	store := openTestStore(t)
	id := newTestIdentity(t)
	records := buildChain(t, id, 3)
	ctx := context.Background()

	watermark, err := store.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 0 {
		t.Errorf("Watermark on empty store = %d, want 0", watermark)
	}

	if err := store.Apply(ctx, records, testEpoch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	watermark, err = store.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 3 {
		t.Errorf("Watermark = %d, want 3", watermark)
	}

	total, err := store.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 3 {
		t.Errorf("CountMessages = %d, want 3", total)
	}
}

func TestApplyRejectsGapFromWatermark(t *testing.T) {
	store := openTestStore(t)
	id := newTestIdentity(t)
	records := buildChain(t, id, 4)
	ctx := context.Background()

	if err := store.Apply(ctx, records[:2], testEpoch); err != nil {
		t.Fatalf("Apply prefix: %v", err)
	}

	// Skipping record 3 must fail, and fail atomically.
	if err := store.Apply(ctx, records[3:], testEpoch); err == nil {
		t.Fatal("Apply with gap should fail")
	}

	watermark, err := store.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 2 {
		t.Errorf("Watermark after failed apply = %d, want 2", watermark)
	}
	total, err := store.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 2 {
		t.Errorf("CountMessages after failed apply = %d, want 2", total)
	}
}

func TestApplyRejectsDoubleApply(t *testing.T) {
	store := openTestStore(t)
	id := newTestIdentity(t)
	records := buildChain(t, id, 2)
	ctx := context.Background()

	if err := store.Apply(ctx, records, testEpoch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := store.Apply(ctx, records, testEpoch); err == nil {
		t.Fatal("re-applying the same batch should fail the watermark check")
	}

	total, err := store.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 2 {
		t.Errorf("CountMessages = %d, want 2 (no double apply)", total)
	}
}

func TestApplyRejectsMixedFeeds(t *testing.T) {
	store := openTestStore(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	mixed := []feed.Record{buildChain(t, alice, 1)[0], buildChain(t, bob, 1)[0]}

	err := store.Apply(context.Background(), mixed, testEpoch)
	if err == nil || !strings.Contains(err.Error(), "mixes feeds") {
		t.Fatalf("Apply mixed feeds = %v, want mixed-feeds error", err)
	}
}

func TestApplyEmptyBatchIsNoOp(t *testing.T) {
	store := openTestStore(t)
	if err := store.Apply(context.Background(), nil, testEpoch); err != nil {
		t.Fatalf("Apply(nil): %v", err)
	}
}

func TestCountByAuthor(t *testing.T) {
	store := openTestStore(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	ctx := context.Background()

	if err := store.Apply(ctx, buildChain(t, alice, 3), testEpoch); err != nil {
		t.Fatalf("Apply alice: %v", err)
	}
	if err := store.Apply(ctx, buildChain(t, bob, 2), testEpoch); err != nil {
		t.Fatalf("Apply bob: %v", err)
	}

	count, err := store.CountByAuthor(ctx, alice.Public())
	if err != nil {
		t.Fatalf("CountByAuthor: %v", err)
	}
	if count != 3 {
		t.Errorf("CountByAuthor(alice) = %d, want 3", count)
	}
}

func TestCountAppliedSinceUsesIngestionTime(t *testing.T) {
	store := openTestStore(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	ctx := context.Background()

	// Alice's records were applied long ago; Bob's just now. The
	// claimed (authorship) timestamps are identical — only the
	// applied-at stamp may distinguish them.
	longAgo := testEpoch.Add(-24 * time.Hour)
	if err := store.Apply(ctx, buildChain(t, alice, 2), longAgo); err != nil {
		t.Fatalf("Apply alice: %v", err)
	}
	if err := store.Apply(ctx, buildChain(t, bob, 3), testEpoch.Add(-time.Minute)); err != nil {
		t.Fatalf("Apply bob: %v", err)
	}

	count, err := store.CountAppliedSince(ctx, testEpoch.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("CountAppliedSince: %v", err)
	}
	if count != 3 {
		t.Errorf("CountAppliedSince = %d, want 3 (only bob's batch)", count)
	}
}

func TestRecentReturnsRows(t *testing.T) {
	store := openTestStore(t)
	id := newTestIdentity(t)
	records := buildChain(t, id, 3)
	ctx := context.Background()

	if err := store.Apply(ctx, records, testEpoch); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rows, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Recent returned %d rows, want 3", len(rows))
	}
	for _, row := range rows {
		if row.Author != id.Public() {
			t.Errorf("row author = %v, want %v", row.Author, id.Public())
		}
		if !row.Root {
			// buildChain produces root posts only.
			t.Errorf("row %d Root = false, want true", row.Sequence)
		}
		if !row.AppliedAt.Equal(testEpoch) {
			t.Errorf("row %d AppliedAt = %v, want %v", row.Sequence, row.AppliedAt, testEpoch)
		}
	}
}

func TestInitializedFlag(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	initialized, err := store.Initialized(ctx)
	if err != nil {
		t.Fatalf("Initialized: %v", err)
	}
	if initialized {
		t.Error("fresh store reports initialized")
	}

	if err := store.MarkInitialized(ctx); err != nil {
		t.Fatalf("MarkInitialized: %v", err)
	}
	// Idempotent.
	if err := store.MarkInitialized(ctx); err != nil {
		t.Fatalf("MarkInitialized again: %v", err)
	}

	initialized, err = store.Initialized(ctx)
	if err != nil {
		t.Fatalf("Initialized: %v", err)
	}
	if !initialized {
		t.Error("store does not report initialized after MarkInitialized")
	}
}

func TestResetFeedRemovesRowsAndWatermark(t *testing.T) {
	store := openTestStore(t)
	alice := newTestIdentity(t)
	bob := newTestIdentity(t)
	ctx := context.Background()

	if err := store.Apply(ctx, buildChain(t, alice, 2), testEpoch); err != nil {
		t.Fatalf("Apply alice: %v", err)
	}
	if err := store.Apply(ctx, buildChain(t, bob, 2), testEpoch); err != nil {
		t.Fatalf("Apply bob: %v", err)
	}

	if err := store.ResetFeed(ctx, alice.Public()); err != nil {
		t.Fatalf("ResetFeed: %v", err)
	}

	watermark, err := store.Watermark(ctx, alice.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 0 {
		t.Errorf("Watermark after reset = %d, want 0", watermark)
	}
	total, err := store.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 2 {
		t.Errorf("CountMessages after reset = %d, want 2 (bob untouched)", total)
	}
}
