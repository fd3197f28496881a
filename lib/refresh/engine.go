// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/murmur-net/murmur/lib/clock"
	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/feedstore"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/viewstore"
)

// Load selects how much unapplied backlog one pass drains.
type Load int

const (
	// ShortLoad drains a bounded recent window per feed. Cheap
	// enough to run on a tick.
	ShortLoad Load = iota

	// LongLoad drains the full backlog of every feed, including the
	// local identity's own unfolded publishes.
	LongLoad
)

// String returns the load's name for logs and summaries.
func (l Load) String() string {
	switch l {
	case ShortLoad:
		return "short"
	case LongLoad:
		return "long"
	default:
		return fmt.Sprintf("load(%d)", int(l))
	}
}

// FeedResult reports one feed's outcome in a pass summary.
type FeedResult struct {
	// Author identifies the feed.
	Author identity.PublicKey

	// Applied is the number of records newly materialized for this
	// feed during the pass.
	Applied int64

	// Failure is the integrity error that halted this feed, or nil.
	// A halted feed's valid prefix is still applied; the failure
	// only stops application beyond the broken record.
	Failure *feed.IntegrityError
}

// Summary reports the outcome of one refresh pass.
type Summary struct {
	// Load is the pass depth that produced this summary.
	Load Load

	// Applied is the total number of records newly materialized
	// across all feeds. Zero when the pass found nothing new — a
	// re-run with no intervening publish or ingest reports zero.
	Applied int64

	// Feeds holds per-feed results, only for feeds with new records
	// or failures. Quiet feeds do not appear.
	Feeds []FeedResult
}

// Failures returns the integrity errors collected during the pass.
func (s Summary) Failures() []*feed.IntegrityError {
	var failures []*feed.IntegrityError
	for _, result := range s.Feeds {
		if result.Failure != nil {
			failures = append(failures, result.Failure)
		}
	}
	return failures
}

// Config holds the parameters for constructing a refresh engine.
type Config struct {
	// Feeds is the append-only log being drained. Required.
	Feeds *feedstore.Store

	// Views is the materialization target. Required.
	Views *viewstore.Store

	// HMACKey is the network HMAC key for signature verification.
	// Nil when the network uses none. The slice is borrowed — it
	// must stay valid for the engine's lifetime.
	HMACKey []byte

	// ShortWindow bounds the records drained per feed by a short
	// pass. Defaults to 64.
	ShortWindow int

	// BatchSize bounds the records applied per transaction.
	// Cancellation is checked between batches, so this is also the
	// granularity at which a deadline can abort a pass. Defaults
	// to 32.
	BatchSize int

	// Clock stamps applied-at times. Required.
	Clock clock.Clock

	// Logger receives per-feed integrity failures and pass
	// summaries. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Engine reconciles the feed store against the view store: for every
// known feed it compares the store's highest sequence with the feed's
// watermark, drains the unapplied records in sequence order, validates
// chain continuity and signatures, and applies them transactionally.
//
// Passes are mutually exclusive — a second Pass call blocks until the
// first finishes, then re-evaluates every watermark from scratch, so
// it degenerates to a no-op when nothing new arrived. Watermarks are
// never cached across passes: a record committed while a pass is
// mid-flight is picked up by the next pass, not lost.
type Engine struct {
	feeds   *feedstore.Store
	views   *viewstore.Store
	hmacKey []byte

	shortWindow int
	batchSize   int

	clock  clock.Clock
	logger *slog.Logger

	// passMu serializes refresh passes.
	passMu sync.Mutex
}

// New constructs a refresh engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Feeds == nil {
		return nil, fmt.Errorf("refresh: Feeds is required")
	}
	if cfg.Views == nil {
		return nil, fmt.Errorf("refresh: Views is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("refresh: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	shortWindow := cfg.ShortWindow
	if shortWindow <= 0 {
		shortWindow = 64
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &Engine{
		feeds:       cfg.Feeds,
		views:       cfg.Views,
		hmacKey:     cfg.HMACKey,
		shortWindow: shortWindow,
		batchSize:   batchSize,
		clock:       cfg.Clock,
		logger:      logger,
	}, nil
}

// Pass runs one refresh pass at the given load. Integrity failures
// are per-feed and reported in the summary; only storage errors and
// cancellation fail the pass itself. On cancellation the returned
// summary covers what was applied before the abort, and every
// watermark sits at its last fully-applied value.
func (e *Engine) Pass(ctx context.Context, load Load) (Summary, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	summary := Summary{Load: load}

	authors, err := e.feeds.Feeds(ctx)
	if err != nil {
		return summary, fmt.Errorf("refresh: listing feeds: %w", err)
	}

	for _, author := range authors {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("refresh: pass aborted: %w", err)
		}

		result, err := e.drainFeed(ctx, author, load)
		if err != nil {
			// Storage failure or cancellation: fatal to the pass.
			// One feed's integrity problems never land here.
			return summary, err
		}
		summary.Applied += result.Applied
		if result.Applied > 0 || result.Failure != nil {
			summary.Feeds = append(summary.Feeds, result)
		}
		if result.Failure != nil {
			e.logger.Warn("feed halted by integrity failure",
				"author", author.String(),
				"kind", string(result.Failure.Kind),
				"seq", result.Failure.Sequence,
				"detail", result.Failure.Detail,
			)
		}
	}

	e.logger.Info("refresh pass complete",
		"load", load.String(),
		"applied", summary.Applied,
		"feeds", len(summary.Feeds),
	)
	return summary, nil
}

// drainFeed applies one feed's unapplied records. Integrity failures
// halt the feed and come back inside the FeedResult; returned errors
// are storage failures or cancellation only.
func (e *Engine) drainFeed(ctx context.Context, author identity.PublicKey, load Load) (FeedResult, error) {
	result := FeedResult{Author: author}

	// Watermark and highest-sequence are read fresh at the start of
	// every pass. A publish that lands after this read is the next
	// pass's work.
	watermark, err := e.views.Watermark(ctx, author)
	if err != nil {
		return result, fmt.Errorf("refresh: %w", err)
	}
	highest, err := e.feeds.HighestSequence(ctx, author)
	if err != nil {
		return result, fmt.Errorf("refresh: %w", err)
	}
	if highest <= watermark {
		return result, nil
	}

	target := highest
	if load == ShortLoad {
		if bounded := watermark + int64(e.shortWindow); bounded < target {
			target = bounded
		}
	}

	// The chain anchor: the already-applied record the first new
	// record must link to. Nil at the start of a feed.
	prev, err := e.recordAt(ctx, author, watermark)
	if err != nil {
		return result, fmt.Errorf("refresh: %w", err)
	}
	if watermark > 0 && prev == nil {
		// The feed store no longer holds the record the watermark
		// points at. Nothing below the watermark is ever re-applied,
		// so validation has no anchor — halt the feed.
		result.Failure = &feed.IntegrityError{
			Author:   author,
			Sequence: watermark,
			Kind:     feed.ChainBroken,
			Detail:   "applied record missing from feed store",
		}
		return result, nil
	}

	for next := watermark + 1; next <= target; {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("refresh: pass aborted: %w", err)
		}

		limit := e.batchSize
		if remaining := target - next + 1; remaining < int64(limit) {
			limit = int(remaining)
		}

		// Collect and validate the next batch. An integrity failure
		// truncates the batch at the last valid record.
		batch := make([]feed.Record, 0, limit)
		scanError := e.feeds.ScanFrom(ctx, author, next, limit, func(record feed.Record) error {
			if err := feed.ValidateChild(prev, record, e.hmacKey); err != nil {
				var integrityErr *feed.IntegrityError
				if errors.As(err, &integrityErr) {
					result.Failure = integrityErr
					return errHaltFeed
				}
				return err
			}
			batch = append(batch, record)
			prev = &batch[len(batch)-1]
			return nil
		})
		if scanError != nil && !errors.Is(scanError, errHaltFeed) {
			return result, fmt.Errorf("refresh: %w", scanError)
		}

		if len(batch) > 0 {
			if err := e.views.Apply(ctx, batch, e.clock.Now()); err != nil {
				return result, fmt.Errorf("refresh: %w", err)
			}
			result.Applied += int64(len(batch))
			next += int64(len(batch))
		}

		if result.Failure != nil {
			// Halt this feed; the valid prefix is already applied.
			return result, nil
		}
		if len(batch) < limit {
			// Fewer records than expected: the feed store holds a
			// gap below the target. Report it rather than spinning.
			result.Failure = &feed.IntegrityError{
				Author:   author,
				Sequence: next,
				Kind:     feed.SequenceGap,
				Detail:   "record missing from feed store",
			}
			return result, nil
		}
	}

	return result, nil
}

// errHaltFeed stops a scan at the first invalid record. Internal
// control flow only — never escapes drainFeed.
var errHaltFeed = errors.New("halt feed")

// recordAt fetches the record at an exact sequence, or nil when seq is
// 0 or the record is absent.
func (e *Engine) recordAt(ctx context.Context, author identity.PublicKey, seq int64) (*feed.Record, error) {
	if seq == 0 {
		return nil, nil
	}
	var found *feed.Record
	err := e.feeds.ScanFrom(ctx, author, seq, 1, func(record feed.Record) error {
		if record.Sequence == seq {
			found = &record
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
