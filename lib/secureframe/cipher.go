// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package secureframe implements the authenticated-encryption envelope
// (C3) that carries one batch of serialized event envelopes between
// peers: deterministic per-(device,counter) nonces, cipher negotiation
// between AES-256-GCM and XChaCha20-Poly1305, and the strict binary
// frame layout documented in spec §6.2.
package secureframe

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sys/cpu"
)

// Cipher identifies the AEAD algorithm used by a frame (§4.3).
type Cipher byte

const (
	// CipherAES256GCM is algorithm 1: AES-256-GCM, 96-bit nonce.
	CipherAES256GCM Cipher = 0x01
	// CipherXChaCha20Poly1305 is algorithm 2: XChaCha20-Poly1305,
	// 192-bit nonce.
	CipherXChaCha20Poly1305 Cipher = 0x02
)

// NonceSize returns the nonce length for a cipher, per §4.3.
func (c Cipher) NonceSize() int {
	switch c {
	case CipherAES256GCM:
		return 12
	case CipherXChaCha20Poly1305:
		return 24
	default:
		return 0
	}
}

// Valid reports whether c is one of the two supported algorithms.
func (c Cipher) Valid() bool {
	return c == CipherAES256GCM || c == CipherXChaCha20Poly1305
}

// SelectCipher chooses algorithm 1 (AES-256-GCM) when the platform
// exposes hardware AES acceleration, and algorithm 2 (XChaCha20-
// Poly1305) otherwise (§4.3). Both are always supported on the
// decrypt path regardless of which this returns.
func SelectCipher() Cipher {
	if hasHardwareAES() {
		return CipherAES256GCM
	}
	return CipherXChaCha20Poly1305
}

// hasHardwareAES reports whether the platform has a hardware AES
// instruction set, checked the same way Go's own crypto/aes package
// decides whether to use its assembly fast path.
func hasHardwareAES() bool {
	return cpu.X86.HasAES || cpu.ARM64.HasAES || cpu.ARM.HasAES || cpu.S390X.HasAES
}

// newAEAD constructs the cipher.AEAD for the given algorithm and
// 32-byte key.
func newAEAD(c Cipher, key [32]byte) (cipher.AEAD, error) {
	switch c {
	case CipherAES256GCM:
		block, err := aes.NewCipher(key[:])
		if err != nil {
			return nil, fmt.Errorf("secureframe: creating AES cipher: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherXChaCha20Poly1305:
		return chacha20poly1305.NewX(key[:])
	default:
		return nil, fmt.Errorf("secureframe: unsupported cipher byte 0x%02x", byte(c))
	}
}
