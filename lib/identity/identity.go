// Copyright 2026 The Murmur Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/auth"

	"github.com/murmur-net/murmur/lib/secret"
)

// PublicKey is an ed25519 public key identifying a feed author. The
// text form is "ed25519:<hex>", used as the author column in both
// stores and in log output.
type PublicKey [ed25519.PublicKeySize]byte

// String returns the "ed25519:<hex>" text form.
func (k PublicKey) String() string {
	return "ed25519:" + hex.EncodeToString(k[:])
}

// IsZero reports whether the key is the all-zero value.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler so PublicKey fields
// serialize as text strings in CBOR and JSON.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParsePublicKey parses the "ed25519:<hex>" text form.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	rest, ok := strings.CutPrefix(s, "ed25519:")
	if !ok {
		return key, fmt.Errorf("identity: public key %q missing ed25519: prefix", s)
	}
	decoded, err := hex.DecodeString(rest)
	if err != nil {
		return key, fmt.Errorf("identity: public key %q: %w", s, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return key, fmt.Errorf("identity: public key %q: got %d bytes, want %d", s, len(decoded), ed25519.PublicKeySize)
	}
	copy(key[:], decoded)
	return key, nil
}

// NetworkKey identifies the gossip network an identity participates
// in. Feeds signed under different network keys never validate against
// each other. It is a shared network parameter, not a per-identity
// secret.
type NetworkKey [32]byte

// HMACKeySize is the required length of the network HMAC key.
const HMACKeySize = auth.KeySize

// Identity is a session-scoped signing identity: the local keypair,
// the network key, and the optional network HMAC key. The private key
// and HMAC key live in mmap-backed secret buffers so Close actually
// releases them.
//
// Immutable once constructed. Safe for concurrent use until Close.
type Identity struct {
	public  PublicKey
	private *secret.Buffer // 64-byte ed25519 private key
	network NetworkKey
	hmac    *secret.Buffer // HMACKeySize bytes, nil when the network uses none
}

// New constructs an Identity from raw key material. secretKey must be
// a 32-byte ed25519 seed or a 64-byte ed25519 private key; hmacKey
// must be empty or exactly HMACKeySize bytes. Both slices are copied
// into protected memory and zeroed in place.
func New(network NetworkKey, hmacKey, secretKey []byte) (*Identity, error) {
	var private ed25519.PrivateKey
	switch len(secretKey) {
	case ed25519.SeedSize:
		private = ed25519.NewKeyFromSeed(secretKey)
	case ed25519.PrivateKeySize:
		private = ed25519.PrivateKey(secretKey)
	default:
		return nil, fmt.Errorf("identity: secret key is %d bytes, want %d (seed) or %d (private key)",
			len(secretKey), ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	if len(hmacKey) != 0 && len(hmacKey) != HMACKeySize {
		return nil, fmt.Errorf("identity: HMAC key is %d bytes, want %d", len(hmacKey), HMACKeySize)
	}

	var public PublicKey
	copy(public[:], private.Public().(ed25519.PublicKey))

	privateBuffer, err := secret.NewFromBytes(private)
	if err != nil {
		return nil, fmt.Errorf("identity: protecting private key: %w", err)
	}
	secret.Zero(secretKey)

	var hmacBuffer *secret.Buffer
	if len(hmacKey) > 0 {
		hmacBuffer, err = secret.NewFromBytes(hmacKey)
		if err != nil {
			privateBuffer.Close()
			return nil, fmt.Errorf("identity: protecting HMAC key: %w", err)
		}
	}

	return &Identity{
		public:  public,
		private: privateBuffer,
		network: network,
		hmac:    hmacBuffer,
	}, nil
}

// Generate creates a fresh random identity on the given network.
func Generate(network NetworkKey, hmacKey []byte) (*Identity, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keypair: %w", err)
	}
	return New(network, hmacKey, private)
}

// Public returns the identity's public key.
func (id *Identity) Public() PublicKey { return id.public }

// Network returns the network key the identity signs under.
func (id *Identity) Network() NetworkKey { return id.network }

// HMACKey returns the network HMAC key, or nil if the network uses
// none. The slice is borrowed from protected memory — do not retain it
// past the Identity's lifetime.
func (id *Identity) HMACKey() []byte {
	if id.hmac == nil {
		return nil
	}
	return id.hmac.Bytes()
}

// Sign signs a record's canonical bytes. When the network carries an
// HMAC key, the signature covers the keyed MAC of the message rather
// than the message itself, binding the signature to the network: a
// record signed for one network never verifies on another even with
// the same keypair.
func (id *Identity) Sign(message []byte) []byte {
	private := ed25519.PrivateKey(id.private.Bytes())
	return ed25519.Sign(private, signedPayload(message, id.HMACKey()))
}

// Verify checks a signature over a record's canonical bytes against
// the author's public key, applying the same HMAC envelope used by
// Sign. hmacKey must be nil or HMACKeySize bytes.
func Verify(author PublicKey, hmacKey, message, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(author[:]), signedPayload(message, hmacKey), sig)
}

// signedPayload applies the nacl/auth network MAC when a key is
// present. The MAC output, not the raw message, is what gets signed.
func signedPayload(message, hmacKey []byte) []byte {
	if len(hmacKey) == 0 {
		return message
	}
	var key [auth.KeySize]byte
	copy(key[:], hmacKey)
	mac := auth.Sum(message, &key)
	defer secret.Zero(key[:])
	return mac[:]
}

// Close releases the identity's protected key material. Idempotent.
// After Close, Sign panics; callers must not use the identity past
// session teardown.
func (id *Identity) Close() error {
	var firstError error
	if err := id.private.Close(); err != nil {
		firstError = err
	}
	if id.hmac != nil {
		if err := id.hmac.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
