// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the local participant's key material: the
// ed25519 keypair that signs feed records, the network key that scopes
// a feed to one gossip network, and the optional network HMAC key.
//
// Secret material (the private key and HMAC key) lives in
// lib/secret.Buffer mmap memory, so closing an Identity at logout
// genuinely releases the keys instead of leaving heap copies behind.
//
// Signature envelope: when the network defines an HMAC key, records
// are signed over the nacl/auth MAC of their canonical bytes rather
// than the bytes directly. Verification applies the same envelope, so
// both sides of the gossip exchange must agree on the network's keys.
package identity
