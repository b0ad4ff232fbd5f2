// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package keymaterial provides X25519 keypair persistence and the
// group-secret derivation used as the AEAD key for secure frames
// (C4). Private key bytes live in a secret.Buffer (mmap-backed,
// locked against swap, excluded from core dumps, zeroed on close) for
// as long as the process holds them.
package keymaterial

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/curve25519"

	"github.com/meshfox/meshfox/lib/secret"
)

// PublicKeySize is the size of an X25519 public key in bytes.
const PublicKeySize = 32

// PrivateKeySize is the size of an X25519 private scalar in bytes.
const PrivateKeySize = 32

// Keypair holds one device's long-term X25519 keypair. The public
// half is advertised during pairing; the private half never leaves
// the process (§4.4).
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the 32-byte X25519 scalar, stored in mmap memory
	// outside the Go heap. Must never be logged or written anywhere
	// but the owner-only key file.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding 32-byte X25519 public key. Safe
	// to publish.
	PublicKey [PublicKeySize]byte
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// Generate creates a new X25519 keypair. The caller must call Close
// on the returned Keypair when done.
func Generate() (*Keypair, error) {
	var scalar [PrivateKeySize]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return nil, fmt.Errorf("keymaterial: generating private scalar: %w", err)
	}
	// Clamp per the X25519 convention so the scalar is always a valid
	// Curve25519 private key (RFC 7748 §5).
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64

	publicKey, err := derivePublic(scalar[:])
	if err != nil {
		return nil, err
	}

	privateKey, err := secret.NewFromBytes(scalar[:])
	if err != nil {
		return nil, fmt.Errorf("keymaterial: protecting private key: %w", err)
	}

	return &Keypair{PrivateKey: privateKey, PublicKey: publicKey}, nil
}

// derivePublic computes the X25519 public key for a private scalar.
func derivePublic(scalar []byte) ([PublicKeySize]byte, error) {
	var publicKey [PublicKeySize]byte
	result, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		return publicKey, fmt.Errorf("keymaterial: deriving public key: %w", err)
	}
	copy(publicKey[:], result)
	return publicKey, nil
}

// Load reads a private key from path (as written by Save: the raw
// 32-byte scalar) and derives the matching public key.
func Load(path string) (*Keypair, error) {
	buffer, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: reading %s: %w", path, err)
	}

	raw := buffer.Bytes()
	if len(raw) != PrivateKeySize {
		buffer.Close()
		return nil, fmt.Errorf("keymaterial: %s contains %d bytes, want %d", path, len(raw), PrivateKeySize)
	}

	publicKey, err := derivePublic(raw)
	if err != nil {
		buffer.Close()
		return nil, err
	}

	return &Keypair{PrivateKey: buffer, PublicKey: publicKey}, nil
}

// Save writes the private key to path with owner-only permissions
// (§6.5: "keys/local.key (owner-only read/write)").
func (k *Keypair) Save(path string) error {
	if err := os.WriteFile(path, k.PrivateKey.Bytes(), 0600); err != nil {
		return fmt.Errorf("keymaterial: writing %s: %w", path, err)
	}
	return nil
}

// PublicKeyHex returns the public key as a lowercase hex string, the
// form used on the wire (§6.2's "sender X25519 public key" field is
// raw bytes, but pairing exchanges and fingerprints use hex, §4.7).
func (k *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey[:])
}

// Fingerprint returns the pairing fingerprint for a public key: the
// first 32 hex characters of the raw key (§4.7 step 3).
func Fingerprint(publicKey [PublicKeySize]byte) string {
	full := hex.EncodeToString(publicKey[:])
	if len(full) < 32 {
		return full
	}
	return full[:32]
}

// ParsePublicKeyHex decodes a hex-encoded public key of exactly
// PublicKeySize bytes.
func ParsePublicKeyHex(s string) ([PublicKeySize]byte, error) {
	var key [PublicKeySize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("keymaterial: invalid public key hex: %w", err)
	}
	if len(raw) != PublicKeySize {
		return key, fmt.Errorf("keymaterial: public key is %d bytes, want %d", len(raw), PublicKeySize)
	}
	copy(key[:], raw)
	return key, nil
}
