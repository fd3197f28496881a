// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/murmur-net/murmur/lib/codec"
	"github.com/murmur-net/murmur/lib/identity"
)

// RecordID is the 32-byte BLAKE3 content identifier of a signed
// record's canonical encoding. The text form is "blake3:<hex>".
type RecordID [32]byte

// recordDomainKey is the BLAKE3 keyed-hash domain for record
// identifiers. A fixed protocol constant — changing it invalidates
// every existing record ID and previous-hash link. The byte values are
// the ASCII encoding of the domain name, zero-padded to 32 bytes, so
// the key is inspectable in hex dumps without sacrificing any
// cryptographic property (keyed BLAKE3 treats it as opaque).
var recordDomainKey = [32]byte{
	'm', 'u', 'r', 'm', 'u', 'r', '.', 'f', 'e', 'e', 'd', '.',
	'r', 'e', 'c', 'o', 'r', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// String returns the "blake3:<hex>" text form.
func (id RecordID) String() string {
	return "blake3:" + hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is the all-zero value.
func (id RecordID) IsZero() bool {
	return id == RecordID{}
}

// MarshalText implements encoding.TextMarshaler so RecordID fields
// serialize as text strings in CBOR and JSON.
func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *RecordID) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseRecordID parses the "blake3:<hex>" text form.
func ParseRecordID(s string) (RecordID, error) {
	var id RecordID
	rest, ok := strings.CutPrefix(s, "blake3:")
	if !ok {
		return id, fmt.Errorf("feed: record ID %q missing blake3: prefix", s)
	}
	decoded, err := hex.DecodeString(rest)
	if err != nil {
		return id, fmt.Errorf("feed: record ID %q: %w", s, err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("feed: record ID %q: got %d bytes, want %d", s, len(decoded), len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

// Content is the application payload of a record.
type Content struct {
	// Type is the application message type ("post" for user
	// messages; other types pass through the stores untouched).
	Type string `cbor:"type"`

	// Root is the record this one replies to. Nil for root messages.
	// The view store derives its root/reply flag from this field.
	Root *RecordID `cbor:"root,omitempty"`

	// Body is the message text.
	Body string `cbor:"body"`
}

// Record is one signed, hash-chained entry in a feed. Immutable once
// signed: any field change invalidates both the signature and the ID.
type Record struct {
	// Author is the feed the record belongs to.
	Author identity.PublicKey `cbor:"author"`

	// Sequence is the 1-based position in the author's feed.
	// Strictly contiguous: sequence N+1 always chains to N.
	Sequence int64 `cbor:"sequence"`

	// Previous is the ID of the record at Sequence-1. Nil only at
	// sequence 1.
	Previous *RecordID `cbor:"previous,omitempty"`

	// Timestamp is the author's claimed creation time in Unix
	// milliseconds. Claimed, not trusted: the view store records its
	// own applied-at time for anything that needs a local ordering.
	Timestamp int64 `cbor:"timestamp"`

	// Content is the application payload.
	Content Content `cbor:"content"`

	// Signature is the author's signature over the canonical
	// encoding of the record with this field absent.
	Signature []byte `cbor:"signature,omitempty"`
}

// unsignedBytes returns the canonical encoding with the signature
// stripped. This is the byte string the signature covers.
func (r Record) unsignedBytes() ([]byte, error) {
	r.Signature = nil
	return codec.Marshal(r)
}

// SignedBytes returns the canonical encoding of the full record,
// signature included. This is the wire form, the at-rest form in the
// feed store, and the input to ID.
func (r Record) SignedBytes() ([]byte, error) {
	if len(r.Signature) == 0 {
		return nil, fmt.Errorf("feed: record %s@%d is unsigned", r.Author, r.Sequence)
	}
	return codec.Marshal(r)
}

// ID computes the record's content identifier: the domain-keyed BLAKE3
// hash of the signed canonical encoding. Panics if the record is
// unsigned — IDs of unsigned records must never circulate.
func (r Record) ID() RecordID {
	data, err := r.SignedBytes()
	if err != nil {
		panic("feed: " + err.Error())
	}
	hasher, err := blake3.NewKeyed(recordDomainKey[:])
	if err != nil {
		panic("feed: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var id RecordID
	copy(id[:], hasher.Sum(nil))
	return id
}

// DecodeRecord decodes a record from its canonical encoding.
func DecodeRecord(data []byte) (Record, error) {
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("feed: decoding record: %w", err)
	}
	return record, nil
}

// Next constructs and signs the record following prev on the given
// identity's feed. prev is nil for the first record of the feed. now
// becomes the record's claimed timestamp.
//
// Next does not touch storage — the caller owns the single-writer
// discipline that makes the (read tip, construct, append) sequence
// atomic.
func Next(id *identity.Identity, prev *Record, now time.Time, content Content) (Record, error) {
	record := Record{
		Author:    id.Public(),
		Sequence:  1,
		Timestamp: now.UnixMilli(),
		Content:   content,
	}
	if prev != nil {
		if prev.Author != id.Public() {
			return Record{}, fmt.Errorf("feed: previous record belongs to %s, not %s", prev.Author, id.Public())
		}
		previousID := prev.ID()
		record.Sequence = prev.Sequence + 1
		record.Previous = &previousID
	}

	unsigned, err := record.unsignedBytes()
	if err != nil {
		return Record{}, fmt.Errorf("feed: encoding record %s@%d: %w", record.Author, record.Sequence, err)
	}
	record.Signature = id.Sign(unsigned)
	return record, nil
}

// VerifySignature checks the record's signature under the network's
// HMAC envelope. Returns an IntegrityError of kind SignatureInvalid on
// failure.
func (r Record) VerifySignature(hmacKey []byte) error {
	if len(r.Signature) == 0 {
		return &IntegrityError{
			Author:   r.Author,
			Sequence: r.Sequence,
			Kind:     SignatureInvalid,
			Detail:   "record is unsigned",
		}
	}
	unsigned, err := r.unsignedBytes()
	if err != nil {
		return fmt.Errorf("feed: encoding record %s@%d: %w", r.Author, r.Sequence, err)
	}
	if !identity.Verify(r.Author, hmacKey, unsigned, r.Signature) {
		return &IntegrityError{
			Author:   r.Author,
			Sequence: r.Sequence,
			Kind:     SignatureInvalid,
			Detail:   "signature does not verify",
		}
	}
	return nil
}

// ValidateChild checks that child is the valid successor of prev on
// one feed: contiguous sequence, matching previous-hash link, valid
// signature. prev is nil when child should be the feed's first record.
// All failures are IntegrityErrors; the caller decides whether they
// halt one feed or the whole operation.
func ValidateChild(prev *Record, child Record, hmacKey []byte) error {
	if prev == nil {
		if child.Sequence != 1 {
			return &IntegrityError{
				Author:   child.Author,
				Sequence: child.Sequence,
				Kind:     SequenceGap,
				Detail:   "first record must have sequence 1",
			}
		}
		if child.Previous != nil {
			return &IntegrityError{
				Author:   child.Author,
				Sequence: child.Sequence,
				Kind:     ChainBroken,
				Detail:   "first record must not reference a previous record",
			}
		}
		return child.VerifySignature(hmacKey)
	}

	if child.Author != prev.Author {
		return &IntegrityError{
			Author:   child.Author,
			Sequence: child.Sequence,
			Kind:     ChainBroken,
			Detail:   fmt.Sprintf("author changed mid-feed from %s", prev.Author),
		}
	}
	if child.Sequence != prev.Sequence+1 {
		return &IntegrityError{
			Author:   child.Author,
			Sequence: child.Sequence,
			Kind:     SequenceGap,
			Detail:   fmt.Sprintf("expected sequence %d", prev.Sequence+1),
		}
	}
	previousID := prev.ID()
	if child.Previous == nil || *child.Previous != previousID {
		return &IntegrityError{
			Author:   child.Author,
			Sequence: child.Sequence,
			Kind:     ChainBroken,
			Detail:   fmt.Sprintf("previous-hash does not match record %d", prev.Sequence),
		}
	}
	return child.VerifySignature(hmacKey)
}
