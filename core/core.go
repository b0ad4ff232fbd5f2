// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package core wires together the three process-wide resources §9
// names (key material, event log handle, pairing-session singleton)
// and exposes the collaborator boundaries of §6.4 as a single type.
// Nothing outside this package constructs eventlog.Store,
// syncengine.Engine, or pairing.Manager directly — cmd/meshfoxd does
// nothing but call core.Open and wire transports around it.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meshfox/meshfox/lib/clock"
	"github.com/meshfox/meshfox/lib/controlapi"
	"github.com/meshfox/meshfox/lib/controltoken"
	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/envelope"
	"github.com/meshfox/meshfox/lib/eventlog"
	"github.com/meshfox/meshfox/lib/keymaterial"
	"github.com/meshfox/meshfox/lib/pairing"
	"github.com/meshfox/meshfox/lib/profile"
	"github.com/meshfox/meshfox/lib/syncengine"
)

// knownEventTypes is the closed tagged sum §6.1 projects. Submit
// rejects anything else outright rather than writing an envelope the
// projector can never apply — unlike a peer-delivered envelope, a
// locally authored one has no forward-compatibility reason to accept
// an unknown tag.
var knownEventTypes = map[envelope.Type]profile.EventFamily{
	envelope.TypeExtensionAdded:       profile.FamilyExtension,
	envelope.TypeExtensionRemoved:     profile.FamilyExtension,
	envelope.TypeExtensionInstalled:   profile.FamilyExtension,
	envelope.TypeExtensionUninstalled: profile.FamilyExtension,
	envelope.TypeContainerAdded:       profile.FamilyContainer,
	envelope.TypeContainerRemoved:     profile.FamilyContainer,
	envelope.TypeContainerUpdated:     profile.FamilyContainer,
	envelope.TypeHandlerSet:           profile.FamilyHandler,
	envelope.TypeHandlerRemoved:       profile.FamilyHandler,
	envelope.TypeSearchEngineAdded:    profile.FamilySearchEngine,
	envelope.TypeSearchEngineRemoved:  profile.FamilySearchEngine,
	envelope.TypeSearchEngineDefault:  profile.FamilySearchEngine,
	envelope.TypePrefSet:              profile.FamilyPref,
	envelope.TypePrefRemoved:          profile.FamilyPref,
	envelope.TypeTabSent:              profile.FamilyTab,
	envelope.TypeTabReceived:          profile.FamilyTab,
}

// Config configures Open. DataDir is the only required field; every
// other field has a production-sane default.
type Config struct {
	// DataDir is the root of the persistent layout described in §6.5:
	// keys/local.key, device.id, api.token, sync/state.db,
	// sync/keys/<peer>.pub.
	DataDir string

	// DeviceName is this device's human-readable name, advertised to
	// peers during the sync handshake (§4.6) and pairing (§4.7).
	DeviceName string

	Logger *slog.Logger
	Clock  clock.Clock

	// BrowserRunning reports whether the local browser currently has
	// the profile open. Defaults to a predicate that always returns
	// false — i.e. profile notifications write through immediately.
	BrowserRunning profile.RunningPredicate

	// ProfileWriter receives state notifications after each
	// successful local or remote ingest. Defaults to a no-op writer.
	ProfileWriter profile.Writer
}

// Core owns every process-wide resource and implements
// controlapi.Core.
type Core struct {
	logger     *slog.Logger
	clock      clock.Clock
	deviceID   deviceid.DeviceID
	deviceName string

	keys   *keymaterial.Keypair
	peers  *keymaterial.PeerStore
	store  *eventlog.Store
	engine *syncengine.Engine
	pair   *pairing.Manager
	tokens *controltoken.Manager
	sub    *profile.Subscription
}

type noopWriter struct{}

func (noopWriter) Write(profile.StateNotification) {}

// Open constructs every resource named in cfg, creating the data
// directory's persistent layout on first use.
func Open(cfg Config) (*Core, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("core: DataDir is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	running := cfg.BrowserRunning
	if running == nil {
		running = func() bool { return false }
	}
	writer := cfg.ProfileWriter
	if writer == nil {
		writer = noopWriter{}
	}

	keysDir := filepath.Join(cfg.DataDir, "keys")
	syncDir := filepath.Join(cfg.DataDir, "sync")
	peersDir := filepath.Join(syncDir, "keys")
	for _, dir := range []string{keysDir, syncDir, peersDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("core: creating %s: %w", dir, err)
		}
	}

	deviceID, err := loadOrCreateDeviceID(filepath.Join(cfg.DataDir, "device.id"))
	if err != nil {
		return nil, fmt.Errorf("core: device identity: %w", err)
	}

	keys, err := loadOrGenerateKeypair(filepath.Join(keysDir, "local.key"))
	if err != nil {
		return nil, fmt.Errorf("core: key material: %w", err)
	}

	peers := keymaterial.NewPeerStore(peersDir)

	tokens, err := controltoken.LoadOrCreate(filepath.Join(cfg.DataDir, "api.token"))
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("core: control token: %w", err)
	}

	store, err := eventlog.Open(eventlog.Config{
		Path:        filepath.Join(syncDir, "state.db"),
		LocalDevice: deviceID,
		Logger:      logger,
	})
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("core: event log: %w", err)
	}

	engine, err := syncengine.New(syncengine.Config{
		LocalDevice: deviceID,
		DeviceName:  cfg.DeviceName,
		Store:       store,
		Keypair:     keys,
		Peers:       peers,
		Logger:      logger,
		Clock:       clk,
	})
	if err != nil {
		store.Close()
		keys.Close()
		return nil, fmt.Errorf("core: sync engine: %w", err)
	}

	pair := pairing.New(pairing.Config{
		LocalDeviceID: deviceID.String(),
		LocalKeys:     keys,
		Peers:         peers,
		Clock:         clk,
	})

	return &Core{
		logger:     logger,
		clock:      clk,
		deviceID:   deviceID,
		deviceName: cfg.DeviceName,
		keys:       keys,
		peers:    peers,
		store:    store,
		engine:   engine,
		pair:     pair,
		tokens:   tokens,
		sub:      profile.NewSubscription(writer, running),
	}, nil
}

// Close releases every resource, in the reverse order they were
// constructed (§9: "a shutdown routine invalidates them in reverse
// order").
func (c *Core) Close() error {
	err := c.store.Close()
	if keyErr := c.keys.Close(); err == nil {
		err = keyErr
	}
	return err
}

// DeviceID returns this device's own identity.
func (c *Core) DeviceID() deviceid.DeviceID { return c.deviceID }

// PublicKeyHex returns this device's own public key, hex-encoded — the
// value a joiner submits alongside its pairing code (§4.7 step 2).
func (c *Core) PublicKeyHex() string { return c.keys.PublicKeyHex() }

// DeviceName returns this device's configured human-readable name.
func (c *Core) DeviceName() string { return c.deviceName }

// Tokens exposes the control-token manager so cmd/meshfoxd can wire
// the same validator into both controlsocket and controlapi.
func (c *Core) Tokens() *controltoken.Manager { return c.tokens }

// Submit implements the "Profile observer → core" boundary (§6.4):
// constructs the envelope, appends it locally, projects it, and fans
// the resulting envelope out to connected peers and the profile
// writer.
func (c *Core) Submit(ctx context.Context, eventType string, payload json.RawMessage) error {
	family, known := knownEventTypes[envelope.Type(eventType)]
	if !known {
		return fmt.Errorf("core: unknown event type %q", eventType)
	}

	event := envelope.Event{Type: envelope.Type(eventType), Data: payload}
	env, err := c.store.AppendLocal(ctx, c.deviceID, event, c.clock.Now())
	if err != nil {
		return fmt.Errorf("core: submitting %s: %w", eventType, err)
	}

	c.sub.Deliver(profile.StateNotification{Family: family, State: env.Event})
	c.engine.Broadcast(ctx, []envelope.Envelope{env})
	return nil
}

// OnPeerStream implements the "Transport → core" boundary's
// on_peer_stream verb: runs the sync protocol's request/response loop
// for one peer connection until the stream closes or ctx is
// cancelled.
func (c *Core) OnPeerStream(ctx context.Context, peerID string, stream syncengine.Stream) error {
	return c.engine.HandleStream(ctx, peerID, stream)
}

// Broadcast implements the "Transport → core" boundary's broadcast
// verb: pushes envs to every currently connected peer, fire-and-forget.
func (c *Core) Broadcast(ctx context.Context, envs []envelope.Envelope) {
	c.engine.Broadcast(ctx, envs)
}

// Status implements the read-only "status" control-surface verb.
func (c *Core) Status(ctx context.Context) (controlapi.StatusResponse, error) {
	clk, err := c.store.Clock(ctx)
	if err != nil {
		return controlapi.StatusResponse{}, fmt.Errorf("core: status: %w", err)
	}
	keys, err := c.peers.Keys()
	if err != nil {
		return controlapi.StatusResponse{}, fmt.Errorf("core: status: %w", err)
	}
	return controlapi.StatusResponse{
		DeviceID:      c.deviceID.String(),
		LocalClock:    clk.Snapshot(),
		PeerCount:     len(keys),
		PairingActive: c.pair.Active(),
	}, nil
}

// DeviceInfo describes one paired peer for the "devices" control
// surface verb.
type DeviceInfo struct {
	DeviceID     string
	PublicKeyHex string
}

// Devices lists every currently paired peer device.
func (c *Core) Devices(ctx context.Context) ([]DeviceInfo, error) {
	all, err := c.peers.All()
	if err != nil {
		return nil, fmt.Errorf("core: listing devices: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(all))
	for id, key := range all {
		devices = append(devices, DeviceInfo{DeviceID: id, PublicKeyHex: fmt.Sprintf("%x", key)})
	}
	return devices, nil
}

// PairingInitiate implements the pairing "initiate" verb.
func (c *Core) PairingInitiate(ctx context.Context) (string, error) {
	return c.pair.Initiate()
}

// PairingJoin implements the pairing "join" verb.
func (c *Core) PairingJoin(ctx context.Context, code string, info pairing.JoinerInfo) (pairing.JoinResult, error) {
	return c.pair.Join(code, info), nil
}

// PairingPending implements the pairing "pending" verb.
func (c *Core) PairingPending(ctx context.Context) (pairing.PendingRequest, bool) {
	return c.pair.Pending()
}

// PairingRespond implements the pairing "respond" verb.
func (c *Core) PairingRespond(ctx context.Context, accept bool) (pairing.FinalStatus, *pairing.AcceptResult, error) {
	return c.pair.Respond(accept)
}

// PairingCancel implements the pairing "cancel" verb.
func (c *Core) PairingCancel(ctx context.Context) {
	c.pair.Cancel()
}

func loadOrCreateDeviceID(path string) (deviceid.DeviceID, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return deviceid.Parse(string(raw))
	}
	if !errors.Is(err, os.ErrNotExist) {
		return deviceid.DeviceID{}, fmt.Errorf("reading %s: %w", path, err)
	}

	id := deviceid.New()
	if err := os.WriteFile(path, []byte(id.String()), 0600); err != nil {
		return deviceid.DeviceID{}, fmt.Errorf("writing %s: %w", path, err)
	}
	return id, nil
}

func loadOrGenerateKeypair(path string) (*keymaterial.Keypair, error) {
	keys, err := keymaterial.Load(path)
	if err == nil {
		return keys, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	keys, err = keymaterial.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	if err := keys.Save(path); err != nil {
		keys.Close()
		return nil, fmt.Errorf("saving %s: %w", path, err)
	}
	return keys, nil
}
