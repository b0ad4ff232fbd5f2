// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package controltoken manages the owner-only bearer token that
// authenticates the local control surface (§6.5: "api.token
// (owner-only)").
package controltoken

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// tokenLength is the number of random bytes in a generated token
// (hex-encoded to a 64-character string).
const tokenLength = 32

// Manager holds the current token and the file it's persisted to.
type Manager struct {
	path  string
	token string
}

// LoadOrCreate loads the token at path, or generates and persists a
// fresh one if the file does not exist.
func LoadOrCreate(path string) (*Manager, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return &Manager{path: path, token: string(raw)}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("controltoken: reading %s: %w", path, err)
	}

	token, err := generate()
	if err != nil {
		return nil, fmt.Errorf("controltoken: generating token: %w", err)
	}
	if err := save(path, token); err != nil {
		return nil, err
	}
	return &Manager{path: path, token: token}, nil
}

// Token returns the current token string.
func (m *Manager) Token() string {
	return m.token
}

// Path returns the token file's path.
func (m *Manager) Path() string {
	return m.path
}

// Validate reports whether candidate matches the current token, using
// a constant-time comparison to avoid leaking timing information about
// how many leading characters matched.
func (m *Manager) Validate(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(m.token), []byte(candidate)) == 1
}

// Regenerate replaces the token with a freshly generated one and
// persists it, invalidating the old token.
func (m *Manager) Regenerate() (string, error) {
	token, err := generate()
	if err != nil {
		return "", fmt.Errorf("controltoken: generating token: %w", err)
	}
	if err := save(m.path, token); err != nil {
		return "", err
	}
	m.token = token
	return token, nil
}

func generate() (string, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func save(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("controltoken: creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return fmt.Errorf("controltoken: writing %s: %w", path, err)
	}
	return nil
}
