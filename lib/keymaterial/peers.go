// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package keymaterial

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PeerStore persists paired peers' public keys under a directory, one
// file per peer named "<device-id>.pub" containing the hex-encoded
// public key (§6.5: "sync/keys/<peer>.pub per paired peer").
type PeerStore struct {
	dir string
}

// NewPeerStore returns a store rooted at dir. Add needs the directory
// to exist already (core.Open creates it); All treats a missing
// directory as no peers.
func NewPeerStore(dir string) *PeerStore {
	return &PeerStore{dir: dir}
}

// Add persists a peer's public key, overwriting any existing entry
// for the same device — this is how pairing acceptance and re-pairing
// both record a peer (§4.7 step 4).
func (s *PeerStore) Add(deviceID string, publicKey [PublicKeySize]byte) error {
	path := s.peerPath(deviceID)
	if err := os.WriteFile(path, []byte(hex.EncodeToString(publicKey[:])), 0600); err != nil {
		return fmt.Errorf("keymaterial: writing peer key for %s: %w", deviceID, err)
	}
	return nil
}

// Remove deletes a peer's stored public key, if present.
func (s *PeerStore) Remove(deviceID string) error {
	if err := os.Remove(s.peerPath(deviceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keymaterial: removing peer key for %s: %w", deviceID, err)
	}
	return nil
}

// All returns every paired peer's public key keyed by device ID. The
// result is a map, so its iteration order is not defined; Keys
// returns the keys in device-ID order (the XOR in GroupSecret is
// commutative, so order doesn't affect the derived secret).
func (s *PeerStore) All() (map[string][PublicKeySize]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][PublicKeySize]byte{}, nil
		}
		return nil, fmt.Errorf("keymaterial: reading peer directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".pub") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	peers := make(map[string][PublicKeySize]byte, len(names))
	for _, name := range names {
		deviceID := strings.TrimSuffix(name, ".pub")
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("keymaterial: reading peer key %s: %w", name, err)
		}
		key, err := ParsePublicKeyHex(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("keymaterial: parsing peer key %s: %w", name, err)
		}
		peers[deviceID] = key
	}
	return peers, nil
}

// Keys returns just the public keys from All, the shape GroupSecret
// expects.
func (s *PeerStore) Keys() ([][PublicKeySize]byte, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	keys := make([][PublicKeySize]byte, 0, len(all))
	deviceIDs := make([]string, 0, len(all))
	for deviceID := range all {
		deviceIDs = append(deviceIDs, deviceID)
	}
	sort.Strings(deviceIDs)
	for _, deviceID := range deviceIDs {
		keys = append(keys, all[deviceID])
	}
	return keys, nil
}

func (s *PeerStore) peerPath(deviceID string) string {
	return filepath.Join(s.dir, deviceID+".pub")
}
