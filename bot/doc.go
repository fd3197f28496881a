// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package bot is the session layer tying the stores together: login
// binds an identity and opens storage, publish appends signed records
// to the local feed, refresh folds feed-store backlog into the view
// store, statistics summarizes the result, and ingest accepts
// replicated peer records.
//
// There is no ambient singleton. A Session is an explicit handle
// passed to every caller, constructed by Open and retired by Exit;
// everything that exists only while logged in is built and torn down
// as one unit.
package bot
