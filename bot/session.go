// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/murmur-net/murmur/lib/clock"
	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/feedstore"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/pubs"
	"github.com/murmur-net/murmur/lib/refresh"
	"github.com/murmur-net/murmur/lib/stats"
	"github.com/murmur-net/murmur/lib/viewstore"
)

// Options configures a session handle.
type Options struct {
	// DataDir holds the feed and view databases. Required.
	DataDir string

	// PoolSize is the sqlite connection pool size per store.
	// Defaults to 4.
	PoolSize int

	// Compression selects at-rest record compression for the feed
	// store. The zero value stores records uncompressed.
	Compression feedstore.CompressionTag

	// RecentWindow is the statistics recency window. Defaults to
	// stats.DefaultRecentWindow.
	RecentWindow time.Duration

	// ShortWindow bounds the records a short refresh pass drains per
	// feed. Defaults to 64.
	ShortWindow int

	// BatchSize bounds the records a refresh pass applies per
	// transaction. Defaults to 32.
	BatchSize int

	// Clock drives applied-at stamps, record timestamps, and the
	// statistics window. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger

	// Preloader seeds a store that has never been used. Invoked
	// exactly once in a store's lifetime, on the first login. May be
	// nil.
	Preloader pubs.Preloader

	// Diagnostics receives fire-and-forget diagnostics. May be nil.
	Diagnostics Diagnostics
}

// sessionState is everything that exists only while logged in. It is
// built as a unit by Login and torn down as a unit by Logout.
type sessionState struct {
	id        *identity.Identity
	feeds     *feedstore.Store
	views     *viewstore.Store
	engine    *refresh.Engine
	collector *stats.Collector

	// publishMu totally orders publishes to the local feed, so the
	// read-tip/construct/append unit never races against itself.
	publishMu sync.Mutex
}

// Session is the explicit handle every operation goes through. Open
// constructs it with stores closed; Login opens storage and binds an
// identity; Logout tears that down; Exit retires the handle.
//
// Session is safe for concurrent use.
type Session struct {
	opts        Options
	clock       clock.Clock
	logger      *slog.Logger
	diagnostics Diagnostics

	mu    sync.Mutex
	state *sessionState

	// inflight counts operations running against the current state.
	// Logout waits for it to drain before closing the stores.
	inflight sync.WaitGroup
}

// Open constructs an unauthenticated session handle. No storage is
// touched until Login.
func Open(opts Options) (*Session, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("bot: DataDir is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = DiscardDiagnostics()
	}
	return &Session{
		opts:        opts,
		clock:       opts.Clock,
		logger:      opts.Logger,
		diagnostics: opts.Diagnostics,
	}, nil
}

// Login establishes a session: parses the secret key material, opens
// the stores, and on a store that has never been initialized runs the
// preloader. The secret and hmacKey slices are consumed — zeroed
// during identity construction.
func (s *Session) Login(ctx context.Context, network identity.NetworkKey, hmacKey, secret []byte) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != nil {
		return ErrAlreadyLoggedIn
	}

	id, err := identity.New(network, hmacKey, secret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	defer func() {
		if err != nil {
			id.Close()
		}
	}()

	if err := os.MkdirAll(s.opts.DataDir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	state := &sessionState{id: id}
	defer func() {
		if err != nil {
			if state.views != nil {
				state.views.Close()
			}
			if state.feeds != nil {
				state.feeds.Close()
			}
		}
	}()

	state.feeds, err = feedstore.Open(feedstore.Config{
		Path:        filepath.Join(s.opts.DataDir, "feeds.db"),
		PoolSize:    s.opts.PoolSize,
		Compression: s.opts.Compression,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	state.views, err = viewstore.Open(viewstore.Config{
		Path:     filepath.Join(s.opts.DataDir, "view.db"),
		PoolSize: s.opts.PoolSize,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	state.engine, err = refresh.New(refresh.Config{
		Feeds:       state.feeds,
		Views:       state.views,
		HMACKey:     id.HMACKey(),
		ShortWindow: s.opts.ShortWindow,
		BatchSize:   s.opts.BatchSize,
		Clock:       s.clock,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	state.collector, err = stats.New(stats.Config{
		Views:        state.views,
		Local:        id.Public(),
		RecentWindow: s.opts.RecentWindow,
		Clock:        s.clock,
	})
	if err != nil {
		return err
	}

	if err := s.preloadFresh(ctx, state); err != nil {
		return err
	}

	s.state = state
	s.logger.Info("session established", "identity", id.Public().String())
	s.diagnostics.EventComplete("login")
	return nil
}

// preloadFresh runs the preloader on a store that has never been
// used, then marks the store initialized so no later login runs it
// again. Initialization is marked even without a preloader: injecting
// one later must not re-trigger first-time setup against a store that
// already has history.
func (s *Session) preloadFresh(ctx context.Context, state *sessionState) error {
	initialized, err := state.views.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if initialized {
		return nil
	}

	if s.opts.Preloader != nil {
		count, err := s.opts.Preloader.Preload(ctx, func(ctx context.Context, content feed.Content) (feed.RecordID, error) {
			return publish(ctx, state, s.clock, content)
		})
		if err != nil {
			return fmt.Errorf("bot: preloading fresh store: %w", err)
		}
		s.logger.Info("fresh store preloaded", "records", count)
		s.diagnostics.EventComplete("preload")
	}

	if err := state.views.MarkInitialized(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Logout flushes and closes the stores and releases the key material.
// No-op when not logged in. In-flight operations finish first.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	state := s.state
	s.state = nil
	s.mu.Unlock()

	if state == nil {
		return nil
	}

	s.inflight.Wait()

	var errs []error
	if err := state.views.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := state.feeds.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := state.id.Close(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("session closed")
	return errors.Join(errs...)
}

// Exit retires the session handle. Valid only after Logout; calling
// it while logged in is reported as an unexpected-value diagnostic
// and degrades to performing the logout itself.
func (s *Session) Exit() {
	s.mu.Lock()
	loggedIn := s.state != nil
	s.mu.Unlock()

	if loggedIn {
		s.diagnostics.UnexpectedValue("session_state", "exit called while logged in")
		s.logger.Warn("exit called while logged in; logging out")
		if err := s.Logout(context.Background()); err != nil {
			s.logger.Error("logout during exit failed", "error", err)
		}
	}

	s.inflight.Wait()
	s.logger.Info("session exited")
}

// begin pins the current state for one operation. The matching end
// call releases it.
func (s *Session) begin() (*sessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, ErrNotLoggedIn
	}
	s.inflight.Add(1)
	return s.state, nil
}

func (s *Session) end() { s.inflight.Done() }

// Identity returns the logged-in identity's public key.
func (s *Session) Identity() (identity.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return identity.PublicKey{}, ErrNotLoggedIn
	}
	return s.state.id.Public(), nil
}

// Publish appends a new record to the local feed and returns its
// content identifier. Concurrent publishes are totally ordered; on
// storage failure the feed's sequence has not advanced.
func (s *Session) Publish(ctx context.Context, content feed.Content) (feed.RecordID, error) {
	state, err := s.begin()
	if err != nil {
		return feed.RecordID{}, err
	}
	defer s.end()

	return publish(ctx, state, s.clock, content)
}

// publish is the read-tip/construct/sign/append unit, serialized per
// session by publishMu. Shared by Publish and the preload path.
func publish(ctx context.Context, state *sessionState, clk clock.Clock, content feed.Content) (feed.RecordID, error) {
	state.publishMu.Lock()
	defer state.publishMu.Unlock()

	tip, err := state.feeds.Tip(ctx, state.id.Public())
	if err != nil {
		return feed.RecordID{}, err
	}
	record, err := feed.Next(state.id, tip, clk.Now(), content)
	if err != nil {
		return feed.RecordID{}, fmt.Errorf("bot: constructing record: %w", err)
	}
	if err := state.feeds.Append(ctx, record); err != nil {
		return feed.RecordID{}, err
	}
	return record.ID(), nil
}

// Refresh runs one reconciliation pass at the given load. Per-feed
// integrity failures are reported in the summary, not as an error.
func (s *Session) Refresh(ctx context.Context, load refresh.Load) (refresh.Summary, error) {
	state, err := s.begin()
	if err != nil {
		return refresh.Summary{}, err
	}
	defer s.end()

	summary, err := state.engine.Pass(ctx, load)
	if err != nil {
		return summary, err
	}
	for _, failure := range summary.Failures() {
		s.diagnostics.UnexpectedValue("feed_integrity", failure.Error())
	}
	return summary, nil
}

// Statistics reads a point-in-time snapshot of the message view. Pure
// read; needs open stores, nothing else.
func (s *Session) Statistics(ctx context.Context) (stats.Snapshot, error) {
	state, err := s.begin()
	if err != nil {
		return stats.Snapshot{}, err
	}
	defer s.end()

	return state.collector.Snapshot(ctx)
}

// Lookup returns the stored record with the given content identifier,
// or nil when no feed holds it.
func (s *Session) Lookup(ctx context.Context, id feed.RecordID) (*feed.Record, error) {
	state, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	return state.feeds.Get(ctx, id)
}

// Timeline returns up to limit materialized messages in descending
// applied order. Records published or ingested since the last refresh
// pass are not visible yet.
func (s *Session) Timeline(ctx context.Context, limit int) ([]viewstore.Row, error) {
	state, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	return state.views.Recent(ctx, limit)
}

// Ingest appends replicated peer records to the feed store after
// validating each against its feed's current tip. Records must arrive
// grouped per feed in increasing sequence order. Returns how many
// records were appended; a feed whose record fails validation is
// halted for the rest of the batch and reported as a diagnostic, not
// an error.
func (s *Session) Ingest(ctx context.Context, records []feed.Record) (int, error) {
	state, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer s.end()

	tips := make(map[identity.PublicKey]*feed.Record)
	halted := make(map[identity.PublicKey]bool)
	appended := 0

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return appended, fmt.Errorf("bot: ingest aborted: %w", err)
		}
		if halted[record.Author] {
			continue
		}

		tip, ok := tips[record.Author]
		if !ok {
			tip, err = state.feeds.Tip(ctx, record.Author)
			if err != nil {
				return appended, err
			}
			tips[record.Author] = tip
		}

		// Replication re-offers old records freely; anything at or
		// below the tip is already held and not worth a diagnostic.
		if tip != nil && record.Sequence <= tip.Sequence {
			continue
		}

		if err := feed.ValidateChild(tip, record, state.id.HMACKey()); err != nil {
			var integrityErr *feed.IntegrityError
			if errors.As(err, &integrityErr) {
				halted[record.Author] = true
				s.logger.Warn("rejecting ingested record",
					"author", record.Author.String(),
					"seq", record.Sequence,
					"kind", string(integrityErr.Kind),
				)
				s.diagnostics.UnexpectedValue("feed_integrity", integrityErr.Error())
				continue
			}
			return appended, err
		}

		if err := state.feeds.Append(ctx, record); err != nil {
			// A concurrent writer landing the same sequence is a
			// lost race, not corruption; halt the feed for this
			// batch and move on.
			if errors.Is(err, feedstore.ErrSequenceConflict) {
				halted[record.Author] = true
				continue
			}
			return appended, err
		}
		appended++
		copied := record
		tips[record.Author] = &copied
	}

	s.logger.Debug("ingest complete", "offered", len(records), "appended", appended)
	return appended, nil
}
