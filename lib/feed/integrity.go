// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"fmt"

	"github.com/murmur-net/murmur/lib/identity"
)

// IntegrityKind classifies a per-feed integrity failure.
type IntegrityKind string

const (
	// ChainBroken means a record's previous-hash field does not
	// match its predecessor's ID, or a first record carried one.
	ChainBroken IntegrityKind = "chain_broken"

	// SignatureInvalid means the record's signature does not verify
	// under the author's key and the network HMAC envelope.
	SignatureInvalid IntegrityKind = "signature_invalid"

	// SequenceGap means a record's sequence number is not the
	// contiguous successor of its predecessor.
	SequenceGap IntegrityKind = "sequence_gap"
)

// IntegrityError reports a validation failure for one record of one
// feed. Integrity errors are per-feed and non-fatal: a refresh pass
// records them in its summary and continues with other feeds. Callers
// extract them with errors.As:
//
//	var integrityErr *feed.IntegrityError
//	if errors.As(err, &integrityErr) {
//	    if integrityErr.Kind == feed.ChainBroken { ... }
//	}
type IntegrityError struct {
	// Author is the feed the offending record claims to belong to.
	Author identity.PublicKey

	// Sequence is the offending record's claimed sequence number.
	Sequence int64

	// Kind classifies the failure.
	Kind IntegrityKind

	// Detail is a human-readable description.
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("feed %s record %d: %s: %s", e.Author, e.Sequence, e.Kind, e.Detail)
}
