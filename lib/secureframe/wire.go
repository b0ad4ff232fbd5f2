// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package secureframe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/meshfox/meshfox/lib/keymaterial"
)

// MarshalBinary encodes the frame in the straight-concatenation
// binary-on-disk form from §6.2:
//
//	offset size   field
//	0      1      version (fixed 0x02)
//	1      1      cipher
//	2      32     sender X25519 public key
//	34     N      nonce
//	34+N   M      ciphertext
//	34+N+M 16     AEAD authentication tag
func (f *Frame) MarshalBinary() ([]byte, error) {
	if !f.Cipher.Valid() {
		return nil, fmt.Errorf("secureframe: cannot encode unknown cipher byte 0x%02x", byte(f.Cipher))
	}
	if len(f.Tag) != tagSize {
		return nil, fmt.Errorf("secureframe: tag is %d bytes, want %d", len(f.Tag), tagSize)
	}

	out := make([]byte, 0, minHeaderSize+len(f.Nonce)+len(f.Ciphertext)+tagSize)
	out = append(out, Version, byte(f.Cipher))
	out = append(out, f.PublicKey[:]...)
	out = append(out, f.Nonce...)
	out = append(out, f.Ciphertext...)
	out = append(out, f.Tag...)
	return out, nil
}

// UnmarshalBinary parses the strict §6.2 layout. Any deviation — a
// version byte other than 0x02, an unknown cipher byte, or a length
// shorter than the minimum header+tag — is rejected as an invalid
// frame without attempting decryption.
func UnmarshalBinary(data []byte) (*Frame, error) {
	if len(data) < minHeaderSize+tagSize {
		return nil, fmt.Errorf("secureframe: frame too short (%d bytes): %w", len(data), ErrInvalidFrame)
	}
	if data[0] != Version {
		return nil, fmt.Errorf("secureframe: unsupported version 0x%02x: %w", data[0], ErrInvalidFrame)
	}

	c := Cipher(data[1])
	if !c.Valid() {
		return nil, fmt.Errorf("secureframe: unknown cipher byte 0x%02x: %w", data[1], ErrInvalidFrame)
	}

	var publicKey [keymaterial.PublicKeySize]byte
	copy(publicKey[:], data[2:2+keymaterial.PublicKeySize])

	nonceSize := c.NonceSize()
	nonceStart := minHeaderSize
	nonceEnd := nonceStart + nonceSize
	tagStart := len(data) - tagSize

	if tagStart < nonceEnd {
		return nil, fmt.Errorf("secureframe: frame too short for nonce+tag: %w", ErrInvalidFrame)
	}

	return &Frame{
		Cipher:     c,
		PublicKey:  publicKey,
		Nonce:      data[nonceStart:nonceEnd],
		Ciphertext: data[nonceEnd:tagStart],
		Tag:        data[tagStart:],
	}, nil
}

// wireFrame is the JSON wrapper used for on-the-wire peer messages
// (§6.2): the same fields as the binary layout, base64-encoded.
type wireFrame struct {
	Version    byte   `json:"version"`
	Cipher     byte   `json:"cipher"`
	PublicKey  string `json:"public_key"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// MarshalJSON implements json.Marshaler, producing the wire form
// {version, cipher, public_key, nonce, ciphertext, tag} with
// base64-encoded binary fields.
func (f *Frame) MarshalJSON() ([]byte, error) {
	if !f.Cipher.Valid() {
		return nil, fmt.Errorf("secureframe: cannot encode unknown cipher byte 0x%02x", byte(f.Cipher))
	}
	return json.Marshal(wireFrame{
		Version:    Version,
		Cipher:     byte(f.Cipher),
		PublicKey:  base64.StdEncoding.EncodeToString(f.PublicKey[:]),
		Nonce:      base64.StdEncoding.EncodeToString(f.Nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(f.Ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(f.Tag),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire wireFrame
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("secureframe: decoding wire frame: %w", err)
	}
	if wire.Version != Version {
		return fmt.Errorf("secureframe: unsupported version %d: %w", wire.Version, ErrInvalidFrame)
	}

	c := Cipher(wire.Cipher)
	if !c.Valid() {
		return fmt.Errorf("secureframe: unknown cipher byte %d: %w", wire.Cipher, ErrInvalidFrame)
	}

	publicKeyBytes, err := base64.StdEncoding.DecodeString(wire.PublicKey)
	if err != nil || len(publicKeyBytes) != keymaterial.PublicKeySize {
		return fmt.Errorf("secureframe: invalid public_key field: %w", ErrInvalidFrame)
	}
	nonce, err := base64.StdEncoding.DecodeString(wire.Nonce)
	if err != nil {
		return fmt.Errorf("secureframe: invalid nonce field: %w", ErrInvalidFrame)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(wire.Ciphertext)
	if err != nil {
		return fmt.Errorf("secureframe: invalid ciphertext field: %w", ErrInvalidFrame)
	}
	tag, err := base64.StdEncoding.DecodeString(wire.Tag)
	if err != nil || len(tag) != tagSize {
		return fmt.Errorf("secureframe: invalid tag field: %w", ErrInvalidFrame)
	}

	var publicKey [keymaterial.PublicKeySize]byte
	copy(publicKey[:], publicKeyBytes)

	f.Cipher = c
	f.PublicKey = publicKey
	f.Nonce = nonce
	f.Ciphertext = ciphertext
	f.Tag = tag
	return nil
}
