// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package keymaterial

import (
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// GroupSecretSize is the size of the derived AEAD key in bytes.
const GroupSecretSize = 32

// GroupSecret derives the 32-byte AEAD key from the local private key
// and the set of known peer public keys, following §4.4 exactly —
// this is an intentionally non-standard construction (see DESIGN.md's
// Open Questions) and must match bit-for-bit:
//
//   - If peers is empty, the secret is X25519(sk, derive_public(sk)):
//     a lone device still needs to encrypt events for its own log.
//   - Otherwise, the secret is the byte-wise XOR of X25519(sk, p) for
//     every p in peers, in any order — XOR is commutative, so caller
//     order does not affect the result.
func GroupSecret(privateKey []byte, peers [][PublicKeySize]byte) ([GroupSecretSize]byte, error) {
	var secret [GroupSecretSize]byte

	if len(peers) == 0 {
		ownPublic, err := derivePublic(privateKey)
		if err != nil {
			return secret, err
		}
		shared, err := curve25519.X25519(privateKey, ownPublic[:])
		if err != nil {
			return secret, fmt.Errorf("keymaterial: deriving degenerate group secret: %w", err)
		}
		copy(secret[:], shared)
		return secret, nil
	}

	for _, peer := range peers {
		shared, err := curve25519.X25519(privateKey, peer[:])
		if err != nil {
			return secret, fmt.Errorf("keymaterial: deriving shared secret with peer %x: %w", peer[:8], err)
		}
		for i := 0; i < GroupSecretSize; i++ {
			secret[i] ^= shared[i]
		}
	}

	return secret, nil
}
