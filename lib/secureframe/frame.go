// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package secureframe

import (
	"bytes"
	"fmt"

	"github.com/meshfox/meshfox/lib/keymaterial"
)

// Version is the only frame version this core speaks. Any other
// version byte is an "invalid frame" failure without attempting
// decryption (§4.3, §7).
const Version byte = 0x02

// minHeaderSize is version(1) + cipher(1) + public key(32); the
// minimum a well-formed frame can be before nonce/ciphertext/tag.
const minHeaderSize = 1 + 1 + keymaterial.PublicKeySize

// tagSize is the AEAD authentication tag length for both supported
// ciphers (§6.2).
const tagSize = 16

// Frame is the decoded form of the binary layout in §6.2. Ciphertext
// and Tag are split fields on the wire but are sealed/opened together
// as a single AEAD operation (Go's cipher.AEAD.Seal appends the tag to
// its ciphertext output).
type Frame struct {
	Cipher    Cipher
	PublicKey [keymaterial.PublicKeySize]byte
	Nonce     []byte
	Ciphertext []byte
	Tag        []byte
}

// Encrypt seals plaintext (a UTF-8 JSON array of envelopes, per
// §6.2) for deviceID at counter, using key as the 32-byte group
// secret AEAD key and senderPublicKey as the sender's advertised
// X25519 public key. Encrypt always uses SelectCipher — callers that
// need to force a specific algorithm (tests, cross-cipher decrypt
// coverage) should call EncryptWithCipher directly.
func Encrypt(deviceID string, counter uint64, key [32]byte, senderPublicKey [keymaterial.PublicKeySize]byte, plaintext []byte) (*Frame, error) {
	return EncryptWithCipher(SelectCipher(), deviceID, counter, key, senderPublicKey, plaintext)
}

// EncryptWithCipher is Encrypt with an explicit cipher choice.
func EncryptWithCipher(c Cipher, deviceID string, counter uint64, key [32]byte, senderPublicKey [keymaterial.PublicKeySize]byte, plaintext []byte) (*Frame, error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, err
	}

	nonce := DeriveNonce(c, deviceID, counter)
	sealed := aead.Seal(nil, nonce, plaintext, nil) // no AAD, per §6.2

	if len(sealed) < tagSize {
		return nil, fmt.Errorf("secureframe: sealed output shorter than the AEAD tag")
	}
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return &Frame{
		Cipher:     c,
		PublicKey:  senderPublicKey,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
	}, nil
}

// Decrypt opens the frame with key, verifying that deviceID and
// counter reproduce the nonce carried in the header — the
// reconstruct-and-compare check §4.3 requires, since the frame itself
// carries no nonce source other than its header bytes. Returns the
// plaintext JSON array of envelopes.
func (f *Frame) Decrypt(deviceID string, counter uint64, key [32]byte) ([]byte, error) {
	if !f.Cipher.Valid() {
		return nil, fmt.Errorf("secureframe: unknown cipher byte 0x%02x: %w", byte(f.Cipher), ErrInvalidFrame)
	}

	expected := DeriveNonce(f.Cipher, deviceID, counter)
	if !bytes.Equal(expected, f.Nonce) {
		return nil, fmt.Errorf("secureframe: nonce mismatch for device %s counter %d: %w", deviceID, counter, ErrInvalidFrame)
	}

	aead, err := newAEAD(f.Cipher, key)
	if err != nil {
		return nil, err
	}

	sealed := append(append([]byte{}, f.Ciphertext...), f.Tag...)
	plaintext, err := aead.Open(nil, f.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("secureframe: AEAD verification failed: %w", ErrInvalidFrame)
	}
	return plaintext, nil
}

// ErrInvalidFrame is wrapped by every rejection in §7's "Invalid
// frame" error family: bad version, unknown cipher, malformed
// length, nonce mismatch, or AEAD verification failure. Callers
// discard the message and close the stream; this is never
// user-visible beyond a counter in status.
var ErrInvalidFrame = fmt.Errorf("invalid frame")
