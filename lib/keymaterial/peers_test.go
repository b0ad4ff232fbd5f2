// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package keymaterial

import "testing"

func TestPeerStoreAddAllRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewPeerStore(dir)

	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	defer kp.Close()

	if err := store.Add("device-b", kp.PublicKey); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if all["device-b"] != kp.PublicKey {
		t.Error("stored peer key does not match")
	}

	if err := store.Remove("device-b"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	all, err = store.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if _, exists := all["device-b"]; exists {
		t.Error("peer key still present after Remove")
	}
}

func TestPeerStoreEmptyDirectory(t *testing.T) {
	store := NewPeerStore(t.TempDir())

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys in an empty store, got %d", len(keys))
	}
}
