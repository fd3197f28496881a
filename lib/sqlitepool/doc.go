// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with standard
// pragmas for the feed store and view store.
//
// Both stores are multi-reader/single-writer: WAL journal mode lets
// statistics queries proceed while a publish or refresh transaction is
// writing. Stores build on the pool directly — they write SQL, use
// sqlitex.Execute for cached statements, and wrap multi-statement
// writes in sqlitex.ImmediateTransaction:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
//	endTransaction, err := sqlitex.ImmediateTransaction(conn)
//	if err != nil {
//	    return err
//	}
//	defer endTransaction(&err)
//
// Schema creation belongs in Config.OnConnect so every connection sees
// the tables regardless of which one is taken first.
package sqlitepool
