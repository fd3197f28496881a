// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// The statistics aggregator's rolling "recently downloaded" window is
// the main consumer: its boundary tests (a row applied 16 minutes ago
// is out, one applied 1 minute ago is in) are only deterministic with
// a fake clock. The daemon's periodic refresh ticker is the other.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Aggregator struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	a := &Aggregator{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	a := &Aggregator{clock: c}
//	c.Advance(16 * time.Minute) // move the window boundary deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters are registered before calling Advance.
// This eliminates the race between timer registration and time
// advancement that plagues tests using time.Sleep for synchronization.
package clock
