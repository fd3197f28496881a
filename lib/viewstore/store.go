// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package viewstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/sqlitepool"
)

// schema is applied to every pool connection. messages and watermarks
// always move together inside one transaction — a message row without
// its watermark covering it (or the reverse) must never be observable,
// even after a crash mid-refresh.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	author       TEXT    NOT NULL,
	seq          INTEGER NOT NULL,
	record_id    TEXT    NOT NULL,
	content_type TEXT    NOT NULL,
	body         TEXT    NOT NULL,
	is_root      INTEGER NOT NULL,
	claimed_at   INTEGER NOT NULL,
	applied_at   INTEGER NOT NULL,
	PRIMARY KEY (author, seq)
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS messages_by_applied ON messages (applied_at);

CREATE TABLE IF NOT EXISTS watermarks (
	author      TEXT PRIMARY KEY,
	applied_seq INTEGER NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
) WITHOUT ROWID;
`

// Config holds the parameters for opening a view store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is the queryable materialization of every applied record. It
// is written only through Apply — the refresh engine's transactional
// apply path — and read by the statistics aggregator and the CLI.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// Row is the denormalized projection of one applied record.
type Row struct {
	// Author and Sequence locate the record in its feed.
	Author   identity.PublicKey
	Sequence int64

	// RecordID is the record's content identifier.
	RecordID feed.RecordID

	// ContentType and Body are the application payload.
	ContentType string
	Body        string

	// Root is true for root messages (no reply target).
	Root bool

	// ClaimedAt is the author's claimed creation time. Claimed, not
	// trusted.
	ClaimedAt time.Time

	// AppliedAt is when this node materialized the record — the
	// ingestion time the statistics window is measured against.
	AppliedAt time.Time
}

// Open creates or opens a view store at the configured path.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("viewstore: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Watermark returns the last applied sequence number for the feed, or
// 0 when the feed has never been applied.
func (s *Store) Watermark(ctx context.Context, author identity.PublicKey) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("viewstore: watermark: %w", err)
	}
	defer s.pool.Put(conn)

	var watermark int64
	err = sqlitex.Execute(conn, `SELECT applied_seq FROM watermarks WHERE author = ?`,
		&sqlitex.ExecOptions{
			Args: []any{author.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				watermark = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("viewstore: watermark for %s: %w", author, err)
	}
	return watermark, nil
}

// Apply materializes a contiguous run of one feed's records and
// advances the feed's watermark, all in a single IMMEDIATE
// transaction. records must be in increasing sequence order starting
// exactly at the current watermark + 1; Apply re-checks this inside
// the transaction so that two appliers racing on one feed cannot
// double-apply or leave a gap. appliedAt is stamped on every row as
// the ingestion time.
//
// Either every row and the watermark advance commit together, or
// nothing does.
func (s *Store) Apply(ctx context.Context, records []feed.Record, appliedAt time.Time) error {
	if len(records) == 0 {
		return nil
	}
	author := records[0].Author

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("viewstore: apply: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("viewstore: begin apply transaction: %w", err)
	}
	defer endTransaction(&err)

	var watermark int64
	err = sqlitex.Execute(conn, `SELECT applied_seq FROM watermarks WHERE author = ?`,
		&sqlitex.ExecOptions{
			Args: []any{author.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				watermark = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("viewstore: reading watermark for %s: %w", author, err)
	}

	expected := watermark + 1
	for _, record := range records {
		if record.Author != author {
			return fmt.Errorf("viewstore: apply batch mixes feeds %s and %s", author, record.Author)
		}
		if record.Sequence != expected {
			return fmt.Errorf("viewstore: apply for %s expected sequence %d, got %d",
				author, expected, record.Sequence)
		}
		expected++

		err = sqlitex.Execute(conn, `
			INSERT INTO messages (author, seq, record_id, content_type, body, is_root, claimed_at, applied_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					author.String(),
					record.Sequence,
					record.ID().String(),
					record.Content.Type,
					record.Content.Body,
					boolToInt(record.Content.Root == nil),
					record.Timestamp,
					appliedAt.UnixMilli(),
				},
			})
		if err != nil {
			return fmt.Errorf("viewstore: inserting %s@%d: %w", author, record.Sequence, err)
		}
	}

	newWatermark := records[len(records)-1].Sequence
	err = sqlitex.Execute(conn, `
		INSERT INTO watermarks (author, applied_seq) VALUES (?, ?)
		ON CONFLICT (author) DO UPDATE SET applied_seq = excluded.applied_seq`,
		&sqlitex.ExecOptions{
			Args: []any{author.String(), newWatermark},
		})
	if err != nil {
		return fmt.Errorf("viewstore: advancing watermark for %s: %w", author, err)
	}

	s.logger.Debug("records applied",
		"author", author.String(),
		"count", len(records),
		"watermark", newWatermark,
	)
	return nil
}

// CountMessages returns the total number of materialized messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM messages`, nil)
}

// CountByAuthor returns the number of materialized messages authored
// by the given feed.
func (s *Store) CountByAuthor(ctx context.Context, author identity.PublicKey) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM messages WHERE author = ?`, []any{author.String()})
}

// CountAppliedSince returns the number of messages applied (ingested)
// at or after the given instant. The window is measured against
// applied_at, not the author's claimed timestamp: in a replicated log
// a record can be created long before this node first sees it, and
// "recently downloaded" means recently seen here. The local identity's
// own freshly-applied backlog counts too.
func (s *Store) CountAppliedSince(ctx context.Context, since time.Time) (int64, error) {
	return s.countQuery(ctx, `SELECT COUNT(*) FROM messages WHERE applied_at >= ?`, []any{since.UnixMilli()})
}

func (s *Store) countQuery(ctx context.Context, query string, args []any) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("viewstore: count: %w", err)
	}
	defer s.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("viewstore: count: %w", err)
	}
	return count, nil
}

// Recent returns up to limit messages in descending applied order.
// Used by the CLI's timeline output.
func (s *Store) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("viewstore: recent: %w", err)
	}
	defer s.pool.Put(conn)

	var rows []Row
	var parseError error
	err = sqlitex.Execute(conn, `
		SELECT author, seq, record_id, content_type, body, is_root, claimed_at, applied_at
		FROM messages ORDER BY applied_at DESC, author, seq DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				row, err := scanRow(stmt)
				if err != nil {
					parseError = err
					return nil
				}
				rows = append(rows, row)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("viewstore: recent: %w", err)
	}
	if parseError != nil {
		return nil, fmt.Errorf("viewstore: recent: %w", parseError)
	}
	return rows, nil
}

// Initialized reports whether first-time setup (pub preloading) has
// run against this store.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("viewstore: initialized: %w", err)
	}
	defer s.pool.Put(conn)

	var initialized bool
	err = sqlitex.Execute(conn, `SELECT value FROM meta WHERE key = 'initialized'`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				initialized = stmt.ColumnText(0) == "1"
				return nil
			},
		})
	if err != nil {
		return false, fmt.Errorf("viewstore: initialized: %w", err)
	}
	return initialized, nil
}

// MarkInitialized records that first-time setup has run. Idempotent.
func (s *Store) MarkInitialized(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("viewstore: mark initialized: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO meta (key, value) VALUES ('initialized', '1')
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, nil)
	if err != nil {
		return fmt.Errorf("viewstore: mark initialized: %w", err)
	}
	return nil
}

// ResetFeed removes one feed's rows and watermark in a single
// transaction. This is the explicit reset-and-resync operation — the
// only path that ever moves a watermark backwards. The next refresh
// pass replays the feed from the feed store.
func (s *Store) ResetFeed(ctx context.Context, author identity.PublicKey) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("viewstore: reset feed: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("viewstore: begin reset transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `DELETE FROM messages WHERE author = ?`,
		&sqlitex.ExecOptions{Args: []any{author.String()}})
	if err != nil {
		return fmt.Errorf("viewstore: resetting messages for %s: %w", author, err)
	}
	err = sqlitex.Execute(conn, `DELETE FROM watermarks WHERE author = ?`,
		&sqlitex.ExecOptions{Args: []any{author.String()}})
	if err != nil {
		return fmt.Errorf("viewstore: resetting watermark for %s: %w", author, err)
	}

	s.logger.Info("feed reset", "author", author.String())
	return nil
}

// scanRow parses one messages result row.
func scanRow(stmt *sqlite.Stmt) (Row, error) {
	author, err := identity.ParsePublicKey(stmt.ColumnText(0))
	if err != nil {
		return Row{}, err
	}
	recordID, err := feed.ParseRecordID(stmt.ColumnText(2))
	if err != nil {
		return Row{}, err
	}
	return Row{
		Author:      author,
		Sequence:    stmt.ColumnInt64(1),
		RecordID:    recordID,
		ContentType: stmt.ColumnText(3),
		Body:        stmt.ColumnText(4),
		Root:        stmt.ColumnInt64(5) != 0,
		ClaimedAt:   time.UnixMilli(stmt.ColumnInt64(6)),
		AppliedAt:   time.UnixMilli(stmt.ColumnInt64(7)),
	}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
