// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meshfox/meshfox/core"
	"github.com/meshfox/meshfox/lib/codec"
	"github.com/meshfox/meshfox/lib/controlsocket"
	"github.com/meshfox/meshfox/lib/daemonproto"
	"github.com/meshfox/meshfox/lib/envelope"
	"github.com/meshfox/meshfox/lib/pairing"
)

// daemon holds the wiring shared by every controlsocket action
// handler. It has no state of its own beyond what core already owns.
type daemon struct {
	core   *core.Core
	logger *slog.Logger
}

// registerHandlers wires every "Control surface → core" verb (§6.4)
// onto srv, plus the "send" and "devices" verbs the CLI also needs.
func (d *daemon) registerHandlers(srv *controlsocket.Server) {
	srv.Handle("status", d.handleStatus)
	srv.Handle("identity", d.handleIdentity)
	srv.Handle("devices", d.handleDevices)
	srv.Handle("send", d.handleSend)
	srv.Handle("install_extension", d.handleInstallExtension)
	srv.Handle("pairing_initiate", d.handlePairingInitiate)
	srv.Handle("pairing_join", d.handlePairingJoin)
	srv.Handle("pairing_pending", d.handlePairingPending)
	srv.Handle("pairing_respond", d.handlePairingRespond)
	srv.Handle("pairing_cancel", d.handlePairingCancel)
}

func (d *daemon) handleStatus(ctx context.Context, _ []byte) (any, error) {
	return d.core.Status(ctx)
}

func (d *daemon) handleIdentity(ctx context.Context, _ []byte) (any, error) {
	return daemonproto.IdentityResponse{
		DeviceID:     d.core.DeviceID().String(),
		DeviceName:   d.core.DeviceName(),
		PublicKeyHex: d.core.PublicKeyHex(),
	}, nil
}

func (d *daemon) handleDevices(ctx context.Context, _ []byte) (any, error) {
	devices, err := d.core.Devices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]daemonproto.DeviceInfo, len(devices))
	for i, dev := range devices {
		out[i] = daemonproto.DeviceInfo{DeviceID: dev.DeviceID, PublicKeyHex: dev.PublicKeyHex}
	}
	return out, nil
}

func (d *daemon) handleSend(ctx context.Context, raw []byte) (any, error) {
	var req daemonproto.SendRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding send request: %w", err)
	}
	if req.ToDevice == "" || req.URL == "" {
		return nil, fmt.Errorf("to_device and url are required")
	}

	payload, err := json.Marshal(envelope.TabSentPayload{
		ToDevice: req.ToDevice,
		URL:      req.URL,
		Title:    req.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tab payload: %w", err)
	}
	if err := d.core.Submit(ctx, string(envelope.TypeTabSent), payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *daemon) handleInstallExtension(ctx context.Context, raw []byte) (any, error) {
	var req daemonproto.InstallExtensionRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding install_extension request: %w", err)
	}
	if req.ID == "" || req.XPIData == "" {
		return nil, fmt.Errorf("id and xpi_data are required")
	}

	sourceData, err := json.Marshal(envelope.LocalSource{OriginalPath: req.OriginalPath})
	if err != nil {
		return nil, fmt.Errorf("encoding extension source: %w", err)
	}
	payload, err := json.Marshal(envelope.ExtensionInstalledPayload{
		ID:      req.ID,
		Name:    req.Name,
		Version: req.Version,
		Source:  envelope.ExtensionSource{Type: envelope.SourceLocal, Data: sourceData},
		XPIData: req.XPIData,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding extension payload: %w", err)
	}
	if err := d.core.Submit(ctx, string(envelope.TypeExtensionInstalled), payload); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *daemon) handlePairingInitiate(ctx context.Context, _ []byte) (any, error) {
	code, err := d.core.PairingInitiate(ctx)
	if err != nil {
		return nil, err
	}
	return daemonproto.PairingInitiateResponse{Code: code}, nil
}

func (d *daemon) handlePairingJoin(ctx context.Context, raw []byte) (any, error) {
	var req daemonproto.PairingJoinRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding pairing_join request: %w", err)
	}
	result, err := d.core.PairingJoin(ctx, req.Code, pairing.JoinerInfo{
		DeviceID:     req.DeviceID,
		DeviceName:   req.DeviceName,
		PublicKeyHex: req.PublicKeyHex,
	})
	if err != nil {
		return nil, err
	}
	return daemonproto.PairingJoinResponse{Outcome: string(result.Outcome)}, nil
}

func (d *daemon) handlePairingPending(ctx context.Context, _ []byte) (any, error) {
	pending, ok := d.core.PairingPending(ctx)
	if !ok {
		return nil, fmt.Errorf("no pairing request is pending")
	}
	return pending, nil
}

func (d *daemon) handlePairingRespond(ctx context.Context, raw []byte) (any, error) {
	var req daemonproto.PairingRespondRequest
	if err := codec.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding pairing_respond request: %w", err)
	}
	status, accepted, err := d.core.PairingRespond(ctx, req.Accept)
	if err != nil {
		return nil, err
	}
	return daemonproto.PairingRespondResponse{Status: string(status), Accepted: accepted}, nil
}

func (d *daemon) handlePairingCancel(ctx context.Context, _ []byte) (any, error) {
	d.core.PairingCancel(ctx)
	return nil, nil
}
