// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data: the
// identity's signing key, the network HMAC key, and keystore
// passphrases.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, unlocked, and unmapped.
//
// Because the memory is allocated outside the Go heap, the garbage
// collector never sees it and cannot copy or relocate it. This is what
// lets session teardown (logout/exit) guarantee that key material is
// actually released rather than lingering in reachable heap copies.
package secret
