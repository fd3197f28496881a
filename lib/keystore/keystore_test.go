// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package keystore_test

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/murmur-net/murmur/lib/identity"
	"github.com/murmur-net/murmur/lib/keystore"
	"github.com/murmur-net/murmur/lib/secret"
)

func testCredentials(t *testing.T) (*keystore.Credentials, []byte) {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		t.Fatalf("rand: %v", err)
	}
	seedCopy := append([]byte(nil), seed...)

	buffer, err := secret.NewFromBytes(seed)
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	creds := &keystore.Credentials{
		Network: identity.NetworkKey{'n', 'e', 't'},
		HMACKey: bytes.Repeat([]byte{7}, identity.HMACKeySize),
		Secret:  buffer,
	}
	t.Cleanup(func() { creds.Close() })
	return creds, seedCopy
}

func TestSealUnsealRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.age")
	creds, seed := testCredentials(t)

	if err := keystore.Seal(path, "correct horse", creds); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	unsealed, err := keystore.Unseal(path, "correct horse")
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	defer unsealed.Close()

	if unsealed.Network != creds.Network {
		t.Errorf("Network = %v, want %v", unsealed.Network, creds.Network)
	}
	if !bytes.Equal(unsealed.HMACKey, creds.HMACKey) {
		t.Error("HMACKey did not round-trip")
	}
	if !bytes.Equal(unsealed.Secret.Bytes(), seed) {
		t.Error("secret key did not round-trip")
	}

	// The round-tripped credentials must construct a working identity.
	id, err := identity.New(unsealed.Network, unsealed.HMACKey, unsealed.Secret.Bytes())
	if err != nil {
		t.Fatalf("identity.New from unsealed credentials: %v", err)
	}
	id.Close()
}

func TestUnsealRejectsWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	creds, _ := testCredentials(t)

	if err := keystore.Seal(path, "right", creds); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	_, err := keystore.Unseal(path, "wrong")
	if !errors.Is(err, keystore.ErrWrongPassphrase) {
		t.Fatalf("Unseal = %v, want ErrWrongPassphrase", err)
	}
}

func TestSealRejectsEmptyPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	creds, _ := testCredentials(t)

	if err := keystore.Seal(path, "", creds); err == nil {
		t.Fatal("Seal with empty passphrase should fail")
	}
}

func TestSealedFileIsPrivateAndOpaque(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.age")
	creds, seed := testCredentials(t)

	if err := keystore.Seal(path, "passphrase", creds); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, seed) {
		t.Error("sealed file contains the secret key in the clear")
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.age")

	exists, err := keystore.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists = true before Seal")
	}

	creds, _ := testCredentials(t)
	if err := keystore.Seal(path, "passphrase", creds); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	exists, err = keystore.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists = false after Seal")
	}
}
