// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import "errors"

var (
	// ErrNotLoggedIn is returned by operations that need an active
	// session when none is established.
	ErrNotLoggedIn = errors.New("bot: not logged in")

	// ErrAlreadyLoggedIn is returned by Login when a session is
	// already active.
	ErrAlreadyLoggedIn = errors.New("bot: already logged in")

	// ErrInvalidCredentials is returned by Login when the secret key
	// material cannot be parsed.
	ErrInvalidCredentials = errors.New("bot: invalid credentials")

	// ErrStorageUnavailable is returned by Login when the feed or
	// view store cannot be opened.
	ErrStorageUnavailable = errors.New("bot: storage unavailable")
)
