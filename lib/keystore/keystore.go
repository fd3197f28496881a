// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/murmur-net/murmur/lib/codec"
	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/secret"
)

// ErrWrongPassphrase is returned by Unseal when the passphrase does
// not open the file.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase")

// Credentials is the material a session needs to log in: the network
// it belongs to, the network's HMAC key if it uses one, and the
// identity's secret key.
type Credentials struct {
	// Network is the 32-byte network key.
	Network identity.NetworkKey

	// HMACKey is the network HMAC key, or nil. Consumed (and zeroed)
	// by identity construction.
	HMACKey []byte

	// Secret is the ed25519 seed or 64-byte private key, in mmap
	// memory outside the Go heap. Consumed by identity construction;
	// Close it if the credentials are discarded unused.
	Secret *secret.Buffer
}

// Close releases the secret key memory. Idempotent.
func (c *Credentials) Close() error {
	if c.Secret != nil {
		return c.Secret.Close()
	}
	return nil
}

// sealedPayload is the canonical encoding inside the age envelope.
type sealedPayload struct {
	Network []byte `cbor:"network"`
	HMACKey []byte `cbor:"hmac_key,omitempty"`
	Secret  []byte `cbor:"secret"`
}

// Seal encrypts the credentials to the passphrase and writes them to
// path (0600, parent directories created). The passphrase crosses the
// API as a string because age's scrypt recipient requires one; the
// caller owns its lifetime.
//
// The credential fields are borrowed, not consumed — the caller still
// Closes them.
func Seal(path, passphrase string, creds *Credentials) error {
	if passphrase == "" {
		return fmt.Errorf("keystore: empty passphrase")
	}
	if creds.Secret == nil {
		return fmt.Errorf("keystore: credentials carry no secret key")
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("keystore: passphrase recipient: %w", err)
	}

	payload := sealedPayload{
		Network: creds.Network[:],
		HMACKey: creds.HMACKey,
		Secret:  creds.Secret.Bytes(),
	}
	// The canonical encoding briefly holds the secret on the heap.
	// Zeroed below; the mmap buffer remains the durable copy.
	plaintext, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("keystore: encoding credentials: %w", err)
	}
	defer secret.Zero(plaintext)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("keystore: creating encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("keystore: encrypting credentials: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("keystore: finalizing encryption: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	if err := os.WriteFile(path, ciphertext.Bytes(), 0o600); err != nil {
		return fmt.Errorf("keystore: writing %s: %w", path, err)
	}
	return nil
}

// Unseal reads and decrypts a sealed credentials file. A wrong
// passphrase reports ErrWrongPassphrase. The caller owns the returned
// credentials and must Close them (or hand them to identity
// construction, which consumes them).
func Unseal(path, passphrase string) (*Credentials, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading %s: %w", path, err)
	}

	scryptIdentity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("keystore: passphrase identity: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), scryptIdentity)
	if err != nil {
		// age reports a passphrase mismatch as no matching identity.
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongPassphrase
		}
		return nil, fmt.Errorf("keystore: decrypting %s: %w", path, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		// Truncated or corrupted ciphertext also lands here when the
		// passphrase is wrong but the header happened to parse.
		return nil, fmt.Errorf("keystore: decrypting %s: %w", path, err)
	}
	defer secret.Zero(plaintext)

	var payload sealedPayload
	if err := codec.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("keystore: decoding credentials: %w", err)
	}
	defer secret.Zero(payload.Secret)

	if len(payload.Network) != len(identity.NetworkKey{}) {
		return nil, fmt.Errorf("keystore: credentials carry %d-byte network key, want %d",
			len(payload.Network), len(identity.NetworkKey{}))
	}

	creds := &Credentials{}
	copy(creds.Network[:], payload.Network)
	if len(payload.HMACKey) > 0 {
		creds.HMACKey = append([]byte(nil), payload.HMACKey...)
		secret.Zero(payload.HMACKey)
	}
	creds.Secret, err = secret.NewFromBytes(payload.Secret)
	if err != nil {
		return nil, fmt.Errorf("keystore: protecting secret key: %w", err)
	}
	return creds, nil
}

// Exists reports whether a sealed credentials file is present at path.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("keystore: %w", err)
}
