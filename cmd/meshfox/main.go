// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Meshfox is the command-line control surface for a meshfoxd process:
// pairing new devices, sending a tab across the mesh, and inspecting
// sync status. It speaks lib/controlsocket to the daemon; all of the
// actual logic lives in package core.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meshfox/meshfox/lib/archive"
	"github.com/meshfox/meshfox/lib/config"
	"github.com/meshfox/meshfox/lib/controlapi"
	"github.com/meshfox/meshfox/lib/controlsocket"
	"github.com/meshfox/meshfox/lib/daemonproto"
	"github.com/meshfox/meshfox/lib/pairing"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	for _, arg := range args {
		if arg == "--version" {
			fmt.Println("meshfox (development build)")
			return 0
		}
	}

	dataDir := resolveDataDir()
	var socketPath string
	args, socketPath = extractFlagValue(args, "--socket")
	if socketPath == "" {
		socketPath = filepath.Join(dataDir, "control.sock")
	}

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	token, err := loadToken(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: reading control token: %v\n", err)
		return 1
	}
	client := controlsocket.NewClient(socketPath, token)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "pair":
		return runPair(ctx, client, args[1:])
	case "send":
		return runSend(ctx, client, args[1:])
	case "status":
		return runStatus(ctx, client)
	case "devices":
		return runDevices(ctx, client)
	case "install-extension":
		return runInstallExtension(ctx, client, args[1:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}
}

const usage = `usage: meshfox [--socket path] <command> [args...]

commands:
  pair init              start a pairing session and print the code
  pair join <code>       join a session started on another device
  pair pending           show the request awaiting a decision
  pair accept            accept the pending pairing request
  pair reject            reject the pending pairing request
  send <device> <url>    send a tab to a paired device
  status                 show this device's sync status
  devices                list paired devices
  install-extension <id> <name> <version> <xpi-file>
                         record a local extension install`

func runPair(ctx context.Context, client *controlsocket.Client, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	switch args[0] {
	case "init":
		var resp daemonproto.PairingInitiateResponse
		if err := client.Call(ctx, "pairing_initiate", nil, &resp); err != nil {
			return fail(err)
		}
		fmt.Printf("pairing code: %s\n", resp.Code)
		return 0

	case "join":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: meshfox pair join <code>")
			return 1
		}
		var identity daemonproto.IdentityResponse
		if err := client.Call(ctx, "identity", nil, &identity); err != nil {
			return fail(fmt.Errorf("reading local identity: %w", err))
		}
		var resp daemonproto.PairingJoinResponse
		fields := map[string]any{
			"code":           args[1],
			"device_id":      identity.DeviceID,
			"device_name":    identity.DeviceName,
			"public_key_hex": identity.PublicKeyHex,
		}
		if err := client.Call(ctx, "pairing_join", fields, &resp); err != nil {
			return fail(err)
		}
		fmt.Printf("join outcome: %s\n", resp.Outcome)
		return 0

	case "pending":
		var resp pairing.PendingRequest
		if err := client.Call(ctx, "pairing_pending", nil, &resp); err != nil {
			return fail(err)
		}
		fmt.Printf("device: %s (%s)\nkey fingerprint: %s\n", resp.DeviceName, resp.DeviceID, resp.PublicKeyFingerprint)
		return 0

	case "accept", "reject":
		var resp daemonproto.PairingRespondResponse
		fields := map[string]any{"accept": args[0] == "accept"}
		if err := client.Call(ctx, "pairing_respond", fields, &resp); err != nil {
			return fail(err)
		}
		fmt.Printf("status: %s\n", resp.Status)
		return 0

	default:
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}
}

func runSend(ctx context.Context, client *controlsocket.Client, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: meshfox send <device-id> <url> [title]")
		return 1
	}
	fields := map[string]any{
		"to_device": args[0],
		"url":       args[1],
	}
	if len(args) >= 3 {
		fields["title"] = strings.Join(args[2:], " ")
	}
	if err := client.Call(ctx, "send", fields, nil); err != nil {
		return fail(err)
	}
	fmt.Println("sent")
	return 0
}

// runInstallExtension packs a local .xpi file with lib/archive and
// submits it to the daemon as an ExtensionInstalled event. Packing
// happens here rather than in meshfoxd because the CLI, not the
// daemon, has the file on its own filesystem — the daemon only ever
// sees the already-compressed, already-base64 payload.
func runInstallExtension(ctx context.Context, client *controlsocket.Client, args []string) int {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: meshfox install-extension <id> <name> <version> <xpi-file>")
		return 1
	}
	id, name, version, path := args[0], args[1], args[2], args[3]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Errorf("reading %s: %w", path, err))
	}
	packed, err := archive.Pack(raw)
	if err != nil {
		return fail(fmt.Errorf("packing %s: %w", path, err))
	}

	fields := map[string]any{
		"id":            id,
		"name":          name,
		"version":       version,
		"original_path": path,
		"xpi_data":      packed,
	}
	if err := client.Call(ctx, "install_extension", fields, nil); err != nil {
		return fail(err)
	}
	fmt.Println("recorded")
	return 0
}

func runStatus(ctx context.Context, client *controlsocket.Client) int {
	var resp controlapi.StatusResponse
	if err := client.Call(ctx, "status", nil, &resp); err != nil {
		return fail(err)
	}
	fmt.Printf("device: %s\n", resp.DeviceID)
	fmt.Printf("peers: %d\n", resp.PeerCount)
	fmt.Printf("pairing active: %v\n", resp.PairingActive)
	fmt.Println("clock:")
	for device, counter := range resp.LocalClock {
		fmt.Printf("  %s: %d\n", device, counter)
	}
	return 0
}

func runDevices(ctx context.Context, client *controlsocket.Client) int {
	var resp []daemonproto.DeviceInfo
	if err := client.Call(ctx, "devices", nil, &resp); err != nil {
		return fail(err)
	}
	if len(resp) == 0 {
		fmt.Println("no paired devices")
		return 0
	}
	for _, d := range resp {
		fmt.Printf("%s  %s\n", d.DeviceID, d.PublicKeyHex)
	}
	return 0
}

// resolveDataDir picks the data directory the CLI assumes meshfoxd is
// using: MESHFOX_DATA_DIR (a CLI-only override for quick use without a
// config file; meshfoxd itself takes --data-dir instead) first, then
// paths.root from MESHFOX_CONFIG, then the same built-in default
// meshfoxd falls back to (config.Default's root). A broken config file
// is not fatal here — the CLI falls back to the default rather than
// refusing to run a "pair" or "status" call.
func resolveDataDir() string {
	if dir := os.Getenv("MESHFOX_DATA_DIR"); dir != "" {
		return dir
	}
	if configPath := os.Getenv("MESHFOX_CONFIG"); configPath != "" {
		if cfg, err := config.LoadFile(configPath); err == nil && cfg.Paths.Root != "" {
			return cfg.Paths.Root
		}
	}
	return config.Default().Paths.Root
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

// extractFlagValue removes "--name value" (or "--name=value") from
// args and returns the remaining args plus the extracted value.
func extractFlagValue(args []string, name string) ([]string, string) {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			value := args[i+1]
			return append(append([]string{}, args[:i]...), args[i+2:]...), value
		}
		if rest, ok := strings.CutPrefix(arg, name+"="); ok {
			return append(append([]string{}, args[:i]...), args[i+1:]...), rest
		}
	}
	return args, ""
}
