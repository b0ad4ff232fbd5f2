// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Meshfox components.
//
// Configuration is loaded from a single file specified by:
//   - MESHFOX_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The only expansion
// performed is ${VAR} and ${VAR:-default} substitution in path-shaped
// fields, for portability across machines with different home directories.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a Meshfox device.
type Config struct {
	// DeviceName is a human-readable label for this device, advertised
	// during pairing and shown in device listings (e.g., "laptop",
	// "desktop-office"). It is not the device identity — that is a
	// generated opaque ID persisted as device.id directly under
	// Paths.Root.
	DeviceName string `yaml:"device_name"`

	// Paths configures on-disk locations.
	Paths PathsConfig `yaml:"paths"`

	// Listen configures the peer-to-peer listener.
	Listen ListenConfig `yaml:"listen"`

	// Control configures the local control surface (pairing, status).
	Control ControlConfig `yaml:"control"`

	// Peers lists statically known peer addresses to dial on startup,
	// in addition to any peers discovered through the transport
	// collaborator. Each entry is a "host:port" address in the format
	// the configured transport understands.
	Peers []string `yaml:"peers,omitempty"`

	// Sync configures sync engine timing.
	Sync SyncConfig `yaml:"sync"`
}

// PathsConfig configures on-disk locations for a device's private
// state: its keypair, the paired-peer directory, and the event log.
type PathsConfig struct {
	// Root is the base data directory for this device.
	Root string `yaml:"root"`

	// Keys is the key-material directory EnsurePaths creates.
	// Default: <Root>/keys. core.Open does not read this field: it
	// always keeps the keypair at <Root>/keys/local.key and paired-peer
	// public keys at <Root>/sync/keys.
	Keys string `yaml:"keys"`

	// Sync is the event-log directory EnsurePaths creates.
	// Default: <Root>/sync. core.Open does not read this field: it
	// always opens the event log at <Root>/sync/state.db.
	Sync string `yaml:"sync"`
}

// ListenConfig configures the peer-to-peer stream listener.
type ListenConfig struct {
	// Address is the "host:port" address to accept peer connections
	// on. Default: ":7902"
	Address string `yaml:"address"`
}

// ControlConfig configures the local control surface used for device
// pairing and status. It is consumed only by trusted local clients
// (the CLI) and must never be exposed off-host.
type ControlConfig struct {
	// SocketPath is the Unix socket path for the control surface.
	// Default: <Root>/control.sock
	SocketPath string `yaml:"socket_path"`
}

// SyncConfig configures sync engine and pairing timing knobs.
type SyncConfig struct {
	// RequestTimeout must be positive (see Validate). No component
	// reads it: the sync engine puts no deadline on peer
	// request/response exchanges. Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PairingTTL must be positive (see Validate). No component reads
	// it: lib/pairing uses a fixed 300-second session lifetime.
	// Default: 300s.
	PairingTTL time.Duration `yaml:"pairing_ttl"`
}

// Default returns the default configuration. These defaults exist to
// ensure every field has a sensible zero-value, not as a fallback for
// a missing config file — loading from a file is still required for
// anything beyond local experimentation.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "meshfox")

	return &Config{
		DeviceName: "",
		Paths: PathsConfig{
			Root: root,
			Keys: filepath.Join(root, "keys"),
			Sync: filepath.Join(root, "sync"),
		},
		Listen: ListenConfig{
			Address: ":7902",
		},
		Control: ControlConfig{
			SocketPath: filepath.Join(root, "control.sock"),
		},
		Sync: SyncConfig{
			RequestTimeout: 30 * time.Second,
			PairingTTL:     300 * time.Second,
		},
	}
}

// Load loads configuration from the path named by MESHFOX_CONFIG.
//
// This is the only way to load configuration without an explicit
// path. There is no fallback — if MESHFOX_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no
// hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("MESHFOX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MESHFOX_CONFIG environment variable not set; " +
			"set it to the path of your meshfox.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged on
// top of [Default], then expands ${VAR} and ${VAR:-default} patterns
// in path-shaped fields for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	cfg.fillPathDefaults()

	return cfg, nil
}

// fillPathDefaults derives Keys/Sync/Control paths from Root when the
// config file overrode Root but left the derived paths blank.
func (c *Config) fillPathDefaults() {
	if c.Paths.Keys == "" {
		c.Paths.Keys = filepath.Join(c.Paths.Root, "keys")
	}
	if c.Paths.Sync == "" {
		c.Paths.Sync = filepath.Join(c.Paths.Root, "sync")
	}
	if c.Control.SocketPath == "" {
		c.Control.SocketPath = filepath.Join(c.Paths.Root, "control.sock")
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// path-shaped fields. The config file is the single source of truth;
// this expansion exists only for portability of paths such as
// ${HOME}, not to let the environment override configured values.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"MESHFOX_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["MESHFOX_ROOT"] = c.Paths.Root // dependent paths see the expanded root

	c.Paths.Keys = expandVars(c.Paths.Keys, vars)
	c.Paths.Sync = expandVars(c.Paths.Sync, vars)
	c.Control.SocketPath = expandVars(c.Control.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// vars first, then the process environment, then the literal default.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for obvious errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Listen.Address == "" {
		errs = append(errs, fmt.Errorf("listen.address is required"))
	}
	if c.Control.SocketPath == "" {
		errs = append(errs, fmt.Errorf("control.socket_path is required"))
	}
	if c.Sync.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.request_timeout must be positive"))
	}
	if c.Sync.PairingTTL <= 0 {
		errs = append(errs, fmt.Errorf("sync.pairing_ttl must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
// Key and sync directories are created with owner-only permissions
// since they hold private key material and the local event log.
func (c *Config) EnsurePaths() error {
	paths := []string{c.Paths.Root, c.Paths.Keys, c.Paths.Sync}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
