// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package secureframe

import (
	"encoding/json"
	"testing"
)

var testKey = [32]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
var testPublicKey = [32]byte{9, 9, 9}

// TestRoundTrip exercises P5: decrypt(encrypt(E, k), k) = E for both
// supported ciphers.
func TestRoundTrip(t *testing.T) {
	for _, c := range []Cipher{CipherAES256GCM, CipherXChaCha20Poly1305} {
		t.Run(string(rune(c)), func(t *testing.T) {
			plaintext := []byte(`[{"id":"evt-1"}]`)

			frame, err := EncryptWithCipher(c, "device-a", 7, testKey, testPublicKey, plaintext)
			if err != nil {
				t.Fatalf("EncryptWithCipher failed: %v", err)
			}

			decrypted, err := frame.Decrypt("device-a", 7, testKey)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if string(decrypted) != string(plaintext) {
				t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
			}
		})
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	plaintext := []byte(`[]`)
	frame, err := EncryptWithCipher(CipherAES256GCM, "device-a", 1, testKey, testPublicKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptWithCipher failed: %v", err)
	}

	wrongKey := [32]byte{99}
	if _, err := frame.Decrypt("device-a", 1, wrongKey); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}

func TestDecryptWithTamperedByteFails(t *testing.T) {
	plaintext := []byte(`[]`)
	frame, err := EncryptWithCipher(CipherAES256GCM, "device-a", 1, testKey, testPublicKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptWithCipher failed: %v", err)
	}

	frame.Ciphertext = append([]byte{}, frame.Ciphertext...)
	if len(frame.Ciphertext) > 0 {
		frame.Ciphertext[0] ^= 0xFF
	} else {
		frame.Tag[0] ^= 0xFF
	}

	if _, err := frame.Decrypt("device-a", 1, testKey); err == nil {
		t.Fatal("expected decryption of a tampered frame to fail")
	}
}

func TestDecryptWithWrongCounterFails(t *testing.T) {
	plaintext := []byte(`[]`)
	frame, err := EncryptWithCipher(CipherAES256GCM, "device-a", 1, testKey, testPublicKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptWithCipher failed: %v", err)
	}

	if _, err := frame.Decrypt("device-a", 2, testKey); err == nil {
		t.Fatal("expected nonce-mismatch rejection for a wrong counter")
	}
}

// TestNonceUniqueness exercises P3: for a fixed author, the nonce is
// a bijection with counter.
func TestNonceUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for counter := uint64(0); counter < 1000; counter++ {
		nonce := DeriveNonce(CipherAES256GCM, "device-a", counter)
		key := string(nonce)
		if seen[key] {
			t.Fatalf("nonce collision at counter %d", counter)
		}
		seen[key] = true
	}
}

func TestNonceDiffersByDevice(t *testing.T) {
	a := DeriveNonce(CipherAES256GCM, "device-a", 0)
	b := DeriveNonce(CipherAES256GCM, "device-b", 0)
	if string(a) == string(b) {
		t.Error("nonces for different devices at counter 0 must differ")
	}
}

func TestBinaryMarshalUnmarshalRoundTrip(t *testing.T) {
	plaintext := []byte(`[{"id":"evt-1"}]`)
	frame, err := EncryptWithCipher(CipherXChaCha20Poly1305, "device-a", 3, testKey, testPublicKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptWithCipher failed: %v", err)
	}

	data, err := frame.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	round, err := UnmarshalBinary(data)
	if err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}

	decrypted, err := round.Decrypt("device-a", 3, testKey)
	if err != nil {
		t.Fatalf("Decrypt after round-trip failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestUnmarshalBinaryRejectsBadVersion(t *testing.T) {
	data := make([]byte, minHeaderSize+12+tagSize)
	data[0] = 0x03
	if _, err := UnmarshalBinary(data); err == nil {
		t.Fatal("expected rejection of an unsupported version byte")
	}
}

func TestUnmarshalBinaryRejectsUnknownCipher(t *testing.T) {
	data := make([]byte, minHeaderSize+12+tagSize)
	data[0] = Version
	data[1] = 0x7F
	if _, err := UnmarshalBinary(data); err == nil {
		t.Fatal("expected rejection of an unknown cipher byte")
	}
}

func TestUnmarshalBinaryRejectsShortFrame(t *testing.T) {
	if _, err := UnmarshalBinary([]byte{Version, byte(CipherAES256GCM)}); err == nil {
		t.Fatal("expected rejection of a too-short frame")
	}
}

func TestJSONWireRoundTrip(t *testing.T) {
	plaintext := []byte(`[{"id":"evt-1"}]`)
	frame, err := EncryptWithCipher(CipherAES256GCM, "device-a", 5, testKey, testPublicKey, plaintext)
	if err != nil {
		t.Fatalf("EncryptWithCipher failed: %v", err)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var round Frame
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	decrypted, err := round.Decrypt("device-a", 5, testKey)
	if err != nil {
		t.Fatalf("Decrypt after JSON round-trip failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}
