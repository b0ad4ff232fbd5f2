// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemonproto defines the request and response shapes carried
// over lib/controlsocket between cmd/meshfox and cmd/meshfoxd. These
// are CLI-specific wire types, not part of any collaborator boundary
// §6.4 names — controlsocket itself is deliberately generic, and
// core's own methods use plain Go types, not CBOR-tagged structs.
// Shared here so the daemon's action handlers and the CLI's action
// callers can't drift out of sync on field names.
package daemonproto

import "github.com/meshfox/meshfox/lib/pairing"

// DeviceInfo describes one paired peer, returned by the "devices"
// action.
type DeviceInfo struct {
	DeviceID     string `cbor:"device_id"`
	PublicKeyHex string `cbor:"public_key_hex"`
}

// IdentityResponse is the "identity" action's response: this device's
// own identity, as submitted by a joiner during "pair join" (§4.7 step
// 2).
type IdentityResponse struct {
	DeviceID     string `cbor:"device_id"`
	DeviceName   string `cbor:"device_name"`
	PublicKeyHex string `cbor:"public_key_hex"`
}

// SendRequest is the "send" action's request: push a tab to a paired
// device (§6.1's TabSent event).
type SendRequest struct {
	ToDevice string `cbor:"to_device"`
	URL      string `cbor:"url"`
	Title    string `cbor:"title,omitempty"`
}

// PairingInitiateResponse is the "pairing_initiate" action's response.
type PairingInitiateResponse struct {
	Code string `cbor:"code"`
}

// PairingJoinRequest is the "pairing_join" action's request (§4.7
// step 2's JoinerInfo plus the code the operator was shown).
type PairingJoinRequest struct {
	Code         string `cbor:"code"`
	DeviceID     string `cbor:"device_id"`
	DeviceName   string `cbor:"device_name"`
	PublicKeyHex string `cbor:"public_key_hex"`
}

// PairingJoinResponse is the "pairing_join" action's response.
type PairingJoinResponse struct {
	Outcome string `cbor:"outcome"`
}

// PairingRespondRequest is the "pairing_respond" action's request.
type PairingRespondRequest struct {
	Accept bool `cbor:"accept"`
}

// PairingRespondResponse is the "pairing_respond" action's response.
type PairingRespondResponse struct {
	Status   string                `cbor:"status"`
	Accepted *pairing.AcceptResult `cbor:"accepted,omitempty"`
}

// InstallExtensionRequest is the "install_extension" action's request
// (§6.1's ExtensionInstalled event, sourced from a local file rather
// than AMO or a git checkout). XPIData is already packed
// (lib/archive.Pack) by the caller, since the CLI has direct access to
// the file and core never needs the raw bytes itself.
type InstallExtensionRequest struct {
	ID           string `cbor:"id"`
	Name         string `cbor:"name"`
	Version      string `cbor:"version"`
	OriginalPath string `cbor:"original_path"`
	XPIData      string `cbor:"xpi_data"`
}
