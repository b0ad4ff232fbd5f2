// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// loadToken reads the control token meshfoxd generated at
// <dataDir>/api.token (the path core.Open hands to
// lib/controltoken.LoadOrCreate). The CLI and daemon share the filesystem, so reading the
// file directly is simpler than adding a token-bearing bootstrap
// handshake for a value that's already sitting on disk with 0600
// permissions.
func loadToken(dataDir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, "api.token"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no api.token found under %s — is meshfoxd running with the same --data-dir?", dataDir)
		}
		return "", err
	}
	return string(raw), nil
}
