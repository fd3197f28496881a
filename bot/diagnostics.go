// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package bot

// Diagnostics is the fire-and-forget side channel for crash-reporting
// and analytics collaborators. The session never consumes a return
// value from it and never blocks on it; implementations must be safe
// for concurrent use.
type Diagnostics interface {
	// UnexpectedValue reports a state the session did not expect but
	// recovered from (degraded path taken, not a crash).
	UnexpectedValue(kind, message string)

	// EventComplete reports a lifecycle event for onboarding and
	// usage tracking.
	EventComplete(event string)
}

// DiscardDiagnostics returns a Diagnostics that drops everything.
func DiscardDiagnostics() Diagnostics { return discardDiagnostics{} }

type discardDiagnostics struct{}

func (discardDiagnostics) UnexpectedValue(kind, message string) {}
func (discardDiagnostics) EventComplete(event string)           {}
