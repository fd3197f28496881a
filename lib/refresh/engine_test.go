// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package refresh_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/murmur-net/murmur/lib/clock"
	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/feedstore"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/refresh"
	"github.com/murmur-net/murmur/lib/testutil"
	"github.com/murmur-net/murmur/lib/viewstore"
)

var (
	testNetwork = identity.NetworkKey{'t', 'e', 's', 't'}
	testEpoch   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	feeds  *feedstore.Store
	views  *viewstore.Store
	clock  *clock.FakeClock
	engine *refresh.Engine
}

func newFixture(t *testing.T, cfg refresh.Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	feeds, err := feedstore.Open(feedstore.Config{
		Path: filepath.Join(dir, "feeds.db"),
	})
	if err != nil {
		t.Fatalf("feedstore.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := feeds.Close(); err != nil {
			t.Errorf("feeds.Close: %v", err)
		}
	})

	views, err := viewstore.Open(viewstore.Config{
		Path: filepath.Join(dir, "view.db"),
	})
	if err != nil {
		t.Fatalf("viewstore.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := views.Close(); err != nil {
			t.Errorf("views.Close: %v", err)
		}
	})

	fake := clock.Fake(testEpoch)
	cfg.Feeds = feeds
	cfg.Views = views
	cfg.Clock = fake
	engine, err := refresh.New(cfg)
	if err != nil {
		t.Fatalf("refresh.New: %v", err)
	}
	return &fixture{feeds: feeds, views: views, clock: fake, engine: engine}
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

// appendChain publishes n chained records continuing from prev and
// returns the new tail of the chain.
func appendChain(t *testing.T, store *feedstore.Store, id *identity.Identity, prev *feed.Record, n int) *feed.Record {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		record, err := feed.Next(id, prev, testEpoch, feed.Content{
			Type: "post",
			Body: testutil.UniqueID("body"),
		})
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if err := store.Append(ctx, record); err != nil {
			t.Fatalf("Append: %v", err)
		}
		copied := record
		prev = &copied
	}
	return prev
}

func TestLongPassDrainsFullBacklog(t *testing.T) {
	fx := newFixture(t, refresh.Config{BatchSize: 3})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 10)
	ctx := context.Background()

	summary, err := fx.engine.Pass(ctx, refresh.LongLoad)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}
	if summary.Applied != 10 {
		t.Errorf("Applied = %d, want 10", summary.Applied)
	}
	if len(summary.Feeds) != 1 {
		t.Fatalf("summary covers %d feeds, want 1", len(summary.Feeds))
	}
	if got := summary.Feeds[0]; got.Author != id.Public() || got.Applied != 10 || got.Failure != nil {
		t.Errorf("feed result = %+v, want 10 applied without failure", got)
	}

	watermark, err := fx.views.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 10 {
		t.Errorf("Watermark = %d, want 10", watermark)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	fx := newFixture(t, refresh.Config{})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 5)
	ctx := context.Background()

	if _, err := fx.engine.Pass(ctx, refresh.LongLoad); err != nil {
		t.Fatalf("first Pass: %v", err)
	}
	summary, err := fx.engine.Pass(ctx, refresh.LongLoad)
	if err != nil {
		t.Fatalf("second Pass: %v", err)
	}
	if summary.Applied != 0 {
		t.Errorf("second pass Applied = %d, want 0", summary.Applied)
	}
	if len(summary.Feeds) != 0 {
		t.Errorf("second pass reports %d feeds, want 0", len(summary.Feeds))
	}

	total, err := fx.views.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 5 {
		t.Errorf("CountMessages = %d, want 5 (no double apply)", total)
	}
}

func TestConcurrentPassesDoNotDoubleApply(t *testing.T) {
	fx := newFixture(t, refresh.Config{BatchSize: 4})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 20)
	ctx := context.Background()

	// Two passes race. They serialize on the engine, so whichever runs
	// second sees the advanced watermark and applies nothing.
	summaries := make(chan refresh.Summary, 2)
	for i := 0; i < 2; i++ {
		go func() {
			summary, err := fx.engine.Pass(ctx, refresh.LongLoad)
			if err != nil {
				t.Errorf("Pass: %v", err)
			}
			summaries <- summary
		}()
	}

	var combined int64
	for i := 0; i < 2; i++ {
		summary := testutil.RequireReceive(t, summaries, 10*time.Second, "pass %d", i)
		combined += summary.Applied
	}
	if combined != 20 {
		t.Errorf("combined Applied = %d, want 20 (each record applied exactly once)", combined)
	}

	total, err := fx.views.CountMessages(ctx)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != 20 {
		t.Errorf("CountMessages = %d, want 20", total)
	}
	watermark, err := fx.views.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 20 {
		t.Errorf("Watermark = %d, want 20", watermark)
	}
}

func TestShortPassBoundsBacklogPerFeed(t *testing.T) {
	fx := newFixture(t, refresh.Config{ShortWindow: 4})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 10)
	ctx := context.Background()

	summary, err := fx.engine.Pass(ctx, refresh.ShortLoad)
	if err != nil {
		t.Fatalf("short Pass: %v", err)
	}
	if summary.Applied != 4 {
		t.Errorf("short pass Applied = %d, want 4", summary.Applied)
	}

	// Short passes make bounded progress each time; a long pass
	// finishes the backlog.
	summary, err = fx.engine.Pass(ctx, refresh.ShortLoad)
	if err != nil {
		t.Fatalf("second short Pass: %v", err)
	}
	if summary.Applied != 4 {
		t.Errorf("second short pass Applied = %d, want 4", summary.Applied)
	}

	summary, err = fx.engine.Pass(ctx, refresh.LongLoad)
	if err != nil {
		t.Fatalf("long Pass: %v", err)
	}
	if summary.Applied != 2 {
		t.Errorf("long pass Applied = %d, want 2", summary.Applied)
	}

	watermark, err := fx.views.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 10 {
		t.Errorf("Watermark = %d, want 10", watermark)
	}
}

func TestPassResumesFromWatermark(t *testing.T) {
	fx := newFixture(t, refresh.Config{})
	id := newTestIdentity(t)
	tail := appendChain(t, fx.feeds, id, nil, 3)
	ctx := context.Background()

	if _, err := fx.engine.Pass(ctx, refresh.LongLoad); err != nil {
		t.Fatalf("first Pass: %v", err)
	}

	// New records land after the first pass. The next pass must
	// validate them against the already-applied tip, not restart.
	appendChain(t, fx.feeds, id, tail, 2)

	summary, err := fx.engine.Pass(ctx, refresh.LongLoad)
	if err != nil {
		t.Fatalf("second Pass: %v", err)
	}
	if summary.Applied != 2 {
		t.Errorf("second pass Applied = %d, want 2", summary.Applied)
	}

	watermark, err := fx.views.Watermark(ctx, id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if watermark != 5 {
		t.Errorf("Watermark = %d, want 5", watermark)
	}
}

func TestTamperedFeedHaltsOnlyItself(t *testing.T) {
	fx := newFixture(t, refresh.Config{})
	alice := newTestIdentity(t)
	mallory := newTestIdentity(t)
	ctx := context.Background()

	appendChain(t, fx.feeds, alice, nil, 3)

	// Mallory's second record carries a corrupted signature. The feed
	// store accepts it (it checks structure, not signatures), so the
	// refresh pass is the line of defense.
	first, err := feed.Next(mallory, nil, testEpoch, feed.Content{Type: "post", Body: "ok"})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := fx.feeds.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	forged, err := feed.Next(mallory, &first, testEpoch, feed.Content{Type: "post", Body: "forged"})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	forged.Signature[0] ^= 0xFF
	if err := fx.feeds.Append(ctx, forged); err != nil {
		t.Fatalf("Append forged: %v", err)
	}

	summary, err := fx.engine.Pass(ctx, refresh.LongLoad)
	if err != nil {
		t.Fatalf("Pass: %v", err)
	}

	// Alice's 3 plus Mallory's valid prefix of 1.
	if summary.Applied != 4 {
		t.Errorf("Applied = %d, want 4", summary.Applied)
	}
	failures := summary.Failures()
	if len(failures) != 1 {
		t.Fatalf("Failures = %v, want exactly 1", failures)
	}
	failure := failures[0]
	if failure.Author != mallory.Public() {
		t.Errorf("failure author = %v, want mallory", failure.Author)
	}
	if failure.Kind != feed.SignatureInvalid {
		t.Errorf("failure kind = %v, want %v", failure.Kind, feed.SignatureInvalid)
	}
	if failure.Sequence != 2 {
		t.Errorf("failure sequence = %d, want 2", failure.Sequence)
	}

	aliceMark, err := fx.views.Watermark(ctx, alice.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if aliceMark != 3 {
		t.Errorf("alice watermark = %d, want 3 (unaffected by mallory)", aliceMark)
	}
	malloryMark, err := fx.views.Watermark(ctx, mallory.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	if malloryMark != 1 {
		t.Errorf("mallory watermark = %d, want 1 (valid prefix only)", malloryMark)
	}
}

func TestCancelledPassLeavesWatermarksConsistent(t *testing.T) {
	fx := newFixture(t, refresh.Config{})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fx.engine.Pass(ctx, refresh.LongLoad); err == nil {
		t.Fatal("Pass with cancelled context should fail")
	}

	watermark, err := fx.views.Watermark(context.Background(), id.Public())
	if err != nil {
		t.Fatalf("Watermark: %v", err)
	}
	total, err := fx.views.CountMessages(context.Background())
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if total != watermark {
		t.Errorf("rows = %d, watermark = %d; must agree after abort", total, watermark)
	}
}

func TestAppliedAtComesFromClock(t *testing.T) {
	fx := newFixture(t, refresh.Config{})
	id := newTestIdentity(t)
	appendChain(t, fx.feeds, id, nil, 2)
	ctx := context.Background()

	fx.clock.Advance(48 * time.Hour)
	applyTime := fx.clock.Now()

	if _, err := fx.engine.Pass(ctx, refresh.LongLoad); err != nil {
		t.Fatalf("Pass: %v", err)
	}

	rows, err := fx.views.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Recent returned %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if !row.AppliedAt.Equal(applyTime) {
			t.Errorf("row %d AppliedAt = %v, want %v", row.Sequence, row.AppliedAt, applyTime)
		}
	}
}

func TestLoadString(t *testing.T) {
	if got := refresh.ShortLoad.String(); got != "short" {
		t.Errorf("ShortLoad.String() = %q, want %q", got, "short")
	}
	if got := refresh.LongLoad.String(); got != "long" {
		t.Errorf("LongLoad.String() = %q, want %q", got, "long")
	}
}
