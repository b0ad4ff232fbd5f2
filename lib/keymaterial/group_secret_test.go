// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package keymaterial

import "testing"

func TestGroupSecretDegenerateCase(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer kp.Close()

	secret, err := GroupSecret(kp.PrivateKey.Bytes(), nil)
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}

	var zero [GroupSecretSize]byte
	if secret == zero {
		t.Error("degenerate group secret must not be all zero")
	}

	// Deterministic: computing it again from the same key yields the
	// same secret.
	again, err := GroupSecret(kp.PrivateKey.Bytes(), nil)
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}
	if secret != again {
		t.Error("degenerate group secret is not deterministic")
	}
}

func TestGroupSecretOrderIndependent(t *testing.T) {
	self, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer self.Close()

	peerA, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer peerA.Close()

	peerB, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer peerB.Close()

	forward, err := GroupSecret(self.PrivateKey.Bytes(), [][PublicKeySize]byte{peerA.PublicKey, peerB.PublicKey})
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}
	backward, err := GroupSecret(self.PrivateKey.Bytes(), [][PublicKeySize]byte{peerB.PublicKey, peerA.PublicKey})
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}

	if forward != backward {
		t.Error("XOR-of-DH group secret must be order independent")
	}
}

func TestGroupSecretChangesWithPeerSet(t *testing.T) {
	self, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer self.Close()

	peerA, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer peerA.Close()

	peerB, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer peerB.Close()

	withA, err := GroupSecret(self.PrivateKey.Bytes(), [][PublicKeySize]byte{peerA.PublicKey})
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}
	withAB, err := GroupSecret(self.PrivateKey.Bytes(), [][PublicKeySize]byte{peerA.PublicKey, peerB.PublicKey})
	if err != nil {
		t.Fatalf("GroupSecret failed: %v", err)
	}

	if withA == withAB {
		t.Error("adding a peer must change the group secret")
	}
}
