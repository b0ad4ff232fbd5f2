// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package secureframe

import (
	"crypto/sha256"
	"encoding/binary"
)

// DeriveNonce implements the deterministic nonce derivation in §4.3
// (the load-bearing rule): let h = SHA-256(device_id_utf8); let c be
// the authoring counter as an unsigned 64-bit big-endian integer.
//
//   - AES-256-GCM:            nonce = h[0..4]  ‖ c            (12 bytes)
//   - XChaCha20-Poly1305:     nonce = h[0..8]  ‖ c ‖ 0x00×8   (24 bytes)
//
// Given invariants I1 and I5 (counters never repeat for one author,
// and the (device,counter) pair determines the nonce uniquely), this
// never reuses a nonce for a given key.
func DeriveNonce(c Cipher, deviceID string, counter uint64) []byte {
	h := sha256.Sum256([]byte(deviceID))

	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	switch c {
	case CipherAES256GCM:
		nonce := make([]byte, 12)
		copy(nonce[0:4], h[0:4])
		copy(nonce[4:12], counterBytes[:])
		return nonce
	case CipherXChaCha20Poly1305:
		nonce := make([]byte, 24)
		copy(nonce[0:8], h[0:8])
		copy(nonce[8:16], counterBytes[:])
		// nonce[16:24] stays zero.
		return nonce
	default:
		return nil
	}
}
