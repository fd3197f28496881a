// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module-standard CBOR encoding.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so that a
// record's canonical bytes — and therefore its content hash and
// signature — are identical on every machine that encodes the same
// logical record. Decoding accepts standard CBOR and ignores unknown
// fields for forward compatibility.
//
// Consumers import only this package, never fxamacker/cbor directly,
// so the encoding configuration stays in one place.
package codec
