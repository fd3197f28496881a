// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package feedstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/murmur-net/murmur/lib/feed"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/sqlitepool"
)

// ErrSequenceConflict is returned by Append when the record's sequence
// number is not exactly one past the feed's current highest. Concurrent
// writers racing on the same feed surface here rather than corrupting
// the chain; the loser re-reads the tip and rebuilds its record.
var ErrSequenceConflict = errors.New("feedstore: sequence conflict")

// schema is applied to every pool connection. The signed canonical
// encoding is the source of truth; author/seq/record_id are extracted
// columns for the lookups the refresh engine needs (highest sequence
// per feed, ordered scan from an offset, point lookup by ID).
const schema = `
CREATE TABLE IF NOT EXISTS records (
	author      TEXT    NOT NULL,
	seq         INTEGER NOT NULL,
	record_id   TEXT    NOT NULL,
	compression INTEGER NOT NULL,
	raw_size    INTEGER NOT NULL,
	encoded     BLOB    NOT NULL,
	PRIMARY KEY (author, seq)
) WITHOUT ROWID;

CREATE UNIQUE INDEX IF NOT EXISTS records_by_id ON records (record_id);
`

// Config holds the parameters for opening a feed store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Compression selects the at-rest compression for record blobs.
	// The zero value stores records uncompressed; the config loader
	// defaults to zstd. Records that do not shrink under the chosen
	// algorithm are stored uncompressed regardless, with the tag
	// recording what was actually written.
	Compression CompressionTag

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is the append-only log of signed records, one ordered feed per
// author. It is the source of truth for "what has this identity said":
// the view store is derived from it and can always be rebuilt by a
// full replay.
//
// Store is safe for concurrent use. Appends to one feed are serialized
// by a per-feed mutex; appends to different feeds proceed in parallel.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger

	compression CompressionTag

	// feedLocks serializes the read-tip/validate/insert unit per
	// feed. Lock entries are created on first touch and never
	// removed — the set of known feeds is small and stable.
	mu        sync.Mutex
	feedLocks map[identity.PublicKey]*sync.Mutex
}

// Open creates or opens a feed store at the configured path.
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
		return nil, fmt.Errorf("feedstore: %w", err)
	}

	return &Store{
		pool:        pool,
		logger:      logger,
		compression: cfg.Compression,
		feedLocks:   make(map[identity.PublicKey]*sync.Mutex),
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// feedLock returns the append mutex for one feed, creating it on
// first use.
func (s *Store) feedLock(author identity.PublicKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.feedLocks[author]
	if !ok {
		lock = &sync.Mutex{}
		s.feedLocks[author] = lock
	}
	return lock
}

// Append appends a signed record to its author's feed. The record's
// sequence must be exactly one past the feed's current highest
// (ErrSequenceConflict otherwise), and its previous-hash must match
// the current tip (an IntegrityError otherwise). The check and the
// insert are one atomic unit: either the whole append commits or the
// feed is untouched.
//
// Append validates structure, not signatures — the publisher signs
// what it appends, and the ingestion path verifies peer signatures
// before calling Append.
func (s *Store) Append(ctx context.Context, record feed.Record) error {
	lock := s.feedLock(record.Author)
	lock.Lock()
	defer lock.Unlock()

	encoded, err := record.SignedBytes()
	if err != nil {
		return fmt.Errorf("feedstore: append: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("feedstore: append: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("feedstore: begin append transaction: %w", err)
	}
	defer endTransaction(&err)

	tip, err := s.tipLocked(conn, record.Author)
	if err != nil {
		return err
	}

	var tipSequence int64
	if tip != nil {
		tipSequence = tip.Sequence
	}
	if record.Sequence != tipSequence+1 {
		return fmt.Errorf("%w: feed %s at %d, record claims %d",
			ErrSequenceConflict, record.Author, tipSequence, record.Sequence)
	}

	// Structural chain check against the stored tip. Catches a
	// publisher bug or an ingestion caller that skipped validation.
	if tip == nil {
		if record.Previous != nil {
			return &feed.IntegrityError{
				Author:   record.Author,
				Sequence: record.Sequence,
				Kind:     feed.ChainBroken,
				Detail:   "first record must not reference a previous record",
			}
		}
	} else {
		tipID := tip.ID()
		if record.Previous == nil || *record.Previous != tipID {
			return &feed.IntegrityError{
				Author:   record.Author,
				Sequence: record.Sequence,
				Kind:     feed.ChainBroken,
				Detail:   fmt.Sprintf("previous-hash does not match record %d", tip.Sequence),
			}
		}
	}

	stored, tag, err := compressBlob(encoded, s.compression)
	if err != nil {
		return fmt.Errorf("feedstore: compressing record %s@%d: %w", record.Author, record.Sequence, err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO records (author, seq, record_id, compression, raw_size, encoded)
		VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.Author.String(),
				record.Sequence,
				record.ID().String(),
				int64(tag),
				len(encoded),
				stored,
			},
		})
	if err != nil {
		return fmt.Errorf("feedstore: inserting record %s@%d: %w", record.Author, record.Sequence, err)
	}

	s.logger.Debug("record appended",
		"author", record.Author.String(),
		"seq", record.Sequence,
		"compression", tag.String(),
	)
	return nil
}

// HighestSequence returns the highest sequence number stored for the
// feed, or 0 when the feed is unknown.
func (s *Store) HighestSequence(ctx context.Context, author identity.PublicKey) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("feedstore: highest sequence: %w", err)
	}
	defer s.pool.Put(conn)

	var highest int64
	err = sqlitex.Execute(conn, `SELECT COALESCE(MAX(seq), 0) FROM records WHERE author = ?`,
		&sqlitex.ExecOptions{
			Args: []any{author.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				highest = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("feedstore: highest sequence for %s: %w", author, err)
	}
	return highest, nil
}

// Tip returns the feed's highest record, or nil when the feed is
// unknown. The publisher chains new records to this.
func (s *Store) Tip(ctx context.Context, author identity.PublicKey) (*feed.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedstore: tip: %w", err)
	}
	defer s.pool.Put(conn)

	return s.tipLocked(conn, author)
}

// tipLocked reads the feed tip on an already-borrowed connection.
func (s *Store) tipLocked(conn *sqlite.Conn, author identity.PublicKey) (*feed.Record, error) {
	var record *feed.Record
	var decodeError error
	err := sqlitex.Execute(conn, `
		SELECT compression, raw_size, encoded FROM records
		WHERE author = ? ORDER BY seq DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{author.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := decodeRow(stmt)
				if err != nil {
					decodeError = err
					return nil
				}
				record = &decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("feedstore: tip for %s: %w", author, err)
	}
	if decodeError != nil {
		return nil, fmt.Errorf("feedstore: tip for %s: %w", author, decodeError)
	}
	return record, nil
}

// ScanFrom streams the feed's records with sequence >= fromSequence in
// increasing sequence order. limit bounds the number of records
// visited; limit <= 0 means no bound. The callback returning an error
// stops the scan and propagates the error.
func (s *Store) ScanFrom(ctx context.Context, author identity.PublicKey, fromSequence int64, limit int, fn func(feed.Record) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("feedstore: scan: %w", err)
	}
	defer s.pool.Put(conn)

	query := `
		SELECT compression, raw_size, encoded FROM records
		WHERE author = ? AND seq >= ? ORDER BY seq ASC`
	args := []any{author.String(), fromSequence}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var callbackError error
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if callbackError != nil {
				return nil
			}
			record, err := decodeRow(stmt)
			if err != nil {
				callbackError = err
				return nil
			}
			callbackError = fn(record)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("feedstore: scanning %s from %d: %w", author, fromSequence, err)
	}
	return callbackError
}

// Get returns the record with the given content ID, or nil when the
// store does not hold it.
func (s *Store) Get(ctx context.Context, id feed.RecordID) (*feed.Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedstore: get: %w", err)
	}
	defer s.pool.Put(conn)

	var record *feed.Record
	var decodeError error
	err = sqlitex.Execute(conn, `
		SELECT compression, raw_size, encoded FROM records WHERE record_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := decodeRow(stmt)
				if err != nil {
					decodeError = err
					return nil
				}
				record = &decoded
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("feedstore: get %s: %w", id, err)
	}
	if decodeError != nil {
		return nil, fmt.Errorf("feedstore: get %s: %w", id, decodeError)
	}
	return record, nil
}

// Feeds returns the authors of every feed the store holds, in no
// particular order.
func (s *Store) Feeds(ctx context.Context) ([]identity.PublicKey, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("feedstore: feeds: %w", err)
	}
	defer s.pool.Put(conn)

	var feeds []identity.PublicKey
	var parseError error
	err = sqlitex.Execute(conn, `SELECT DISTINCT author FROM records`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			author, err := identity.ParsePublicKey(stmt.ColumnText(0))
			if err != nil {
				parseError = err
				return nil
			}
			feeds = append(feeds, author)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("feedstore: listing feeds: %w", err)
	}
	if parseError != nil {
		return nil, fmt.Errorf("feedstore: listing feeds: %w", parseError)
	}
	return feeds, nil
}

// decodeRow decompresses and decodes a record from a (compression,
// raw_size, encoded) result row.
func decodeRow(stmt *sqlite.Stmt) (feed.Record, error) {
	tag := CompressionTag(stmt.ColumnInt64(0))
	rawSize := stmt.ColumnInt(1)
	stored := make([]byte, stmt.ColumnLen(2))
	stmt.ColumnBytes(2, stored)

	encoded, err := decompressBlob(stored, tag, rawSize)
	if err != nil {
		return feed.Record{}, err
	}
	return feed.DecodeRecord(encoded)
}
