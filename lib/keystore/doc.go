// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

// Package keystore seals login credentials to disk with age.
//
// The sealed file is an age envelope over the canonically encoded
// credentials, encrypted to an scrypt passphrase recipient. Unsealed
// secret key bytes go straight into mmap-backed secret.Buffer memory;
// transient heap copies are zeroed before return.
package keystore
