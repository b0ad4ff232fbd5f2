// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/meshfox/meshfox/lib/clock"
	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/envelope"
	"github.com/meshfox/meshfox/lib/eventlog"
	"github.com/meshfox/meshfox/lib/keymaterial"
	"github.com/meshfox/meshfox/lib/secureframe"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

// Config holds the resources an Engine wires together. All fields are
// required.
type Config struct {
	// LocalDevice is this device's own identity.
	LocalDevice deviceid.DeviceID

	// DeviceName is the human-readable name advertised in Clock
	// responses (§4.6 step 2's remote_device_name).
	DeviceName string

	// Store is the local event log and projection store.
	Store *eventlog.Store

	// Keypair is this device's long-term X25519 keypair.
	Keypair *keymaterial.Keypair

	// Peers is the set of paired peers' public keys, used to derive
	// the group secret (C4).
	Peers *keymaterial.PeerStore

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger

	// Clock supplies the current time for the SendTab shortcut's
	// fabricated envelope. Defaults to clock.Real().
	Clock clock.Clock
}

// Engine is the request/response sync state machine (C6). One Engine
// serves every peer connection for a device; each inbound or outbound
// stream gets its own Connection and its own HandleStream goroutine.
type Engine struct {
	localDevice deviceid.DeviceID
	deviceName  string
	store       *eventlog.Store
	keypair     *keymaterial.Keypair
	peers       *keymaterial.PeerStore
	logger      *slog.Logger
	clock       clock.Clock

	mu          sync.RWMutex
	connections map[string]*Connection
}

// New constructs an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.LocalDevice.IsZero() {
		return nil, fmt.Errorf("syncengine: LocalDevice is required")
	}
	if cfg.Store == nil || cfg.Keypair == nil || cfg.Peers == nil {
		return nil, fmt.Errorf("syncengine: Store, Keypair, and Peers are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Engine{
		localDevice: cfg.LocalDevice,
		deviceName:  cfg.DeviceName,
		store:       cfg.Store,
		keypair:     cfg.Keypair,
		peers:       cfg.Peers,
		logger:      logger,
		clock:       clk,
		connections: make(map[string]*Connection),
	}, nil
}

// groupSecret derives the current AEAD key from this device's private
// key and the set of paired peers' public keys (§4.4).
func (e *Engine) groupSecret() ([keymaterial.GroupSecretSize]byte, error) {
	peerKeys, err := e.peers.Keys()
	if err != nil {
		return [keymaterial.GroupSecretSize]byte{}, fmt.Errorf("syncengine: loading peer keys: %w", err)
	}
	secret, err := keymaterial.GroupSecret(e.keypair.PrivateKey.Bytes(), peerKeys)
	if err != nil {
		return [keymaterial.GroupSecretSize]byte{}, fmt.Errorf("syncengine: deriving group secret: %w", err)
	}
	return secret, nil
}

// HandleStream runs the per-peer protocol loop over stream until the
// stream closes, ctx is cancelled, or a protocol error ends the
// session (§7's "Transport failure" / "Unsupported version" families).
// It registers the connection for Broadcast, performs the initial
// exchange (§4.6 step 1), then dispatches inbound messages until
// HandleStream returns.
func (e *Engine) HandleStream(ctx context.Context, peerID string, stream Stream) error {
	conn := newConnection(peerID, stream)

	e.mu.Lock()
	e.connections[peerID] = conn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.connections, peerID)
		e.mu.Unlock()
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.send(TypeGetClock, nil); err != nil {
		return err
	}

	for {
		msg, err := conn.recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := e.dispatch(ctx, conn, msg); err != nil {
			e.logger.Warn("syncengine: closing stream after protocol error",
				"peer", peerID, "message_type", msg.Type, "error", err)
			return err
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, conn *Connection, msg Message) error {
	switch msg.Type {
	case TypeGetClock:
		return e.handleGetClock(ctx, conn)
	case TypeClock:
		return e.handleClock(ctx, conn, msg)
	case TypeGetEvents:
		return e.handleGetEvents(ctx, conn, msg)
	case TypeEvents:
		return e.handleEvents(ctx, conn, msg)
	case TypePushEvents:
		return e.handlePushEvents(ctx, conn, msg)
	case TypeAck:
		return nil
	case TypeSendTab:
		return e.handleSendTab(ctx, conn, msg)
	case TypeTabReceived:
		return nil
	case TypeError:
		var payload ErrorPayload
		if err := msg.decode(&payload); err != nil {
			return err
		}
		return fmt.Errorf("syncengine: peer %s reported error: %s", conn.peerID, payload.Message)
	default:
		_ = conn.send(TypeError, ErrorPayload{Message: fmt.Sprintf("unsupported message type %q", msg.Type)})
		return fmt.Errorf("syncengine: unsupported message type %q from peer %s: %w", msg.Type, conn.peerID, ErrUnsupportedMessage)
	}
}

// ErrUnsupportedMessage marks the §7 "Unsupported version"-shaped
// failure family applied to the message layer: any tag this version of
// the protocol does not recognize ends the stream after replying
// Error{message}.
var ErrUnsupportedMessage = fmt.Errorf("unsupported message type")

func (e *Engine) handleGetClock(ctx context.Context, conn *Connection) error {
	localClock, err := e.store.Clock(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: reading local clock: %w", err)
	}
	return conn.send(TypeClock, ClockPayload{
		Clock:      localClock,
		DeviceID:   e.localDevice.String(),
		DeviceName: e.deviceName,
	})
}

// handleClock implements §4.6 steps 2-4: record the peer's reported
// state, push whatever the peer is missing, and ask for whatever this
// device is missing.
func (e *Engine) handleClock(ctx context.Context, conn *Connection, msg Message) error {
	var payload ClockPayload
	if err := msg.decode(&payload); err != nil {
		return err
	}
	remoteDevice, err := deviceid.Parse(payload.DeviceID)
	if err != nil {
		return fmt.Errorf("syncengine: peer %s sent invalid device_id: %w", conn.peerID, err)
	}
	conn.recordRemote(remoteDevice, payload.DeviceName, payload.Clock)

	localClock, err := e.store.Clock(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: reading local clock: %w", err)
	}

	missing, err := e.store.EventsSince(ctx, payload.Clock)
	if err != nil {
		return fmt.Errorf("syncengine: computing events_since: %w", err)
	}
	if len(missing) > 0 {
		frames, err := e.encryptBatch(missing)
		if err != nil {
			return fmt.Errorf("syncengine: encrypting push batch: %w", err)
		}
		if err := conn.send(TypePushEvents, PushEventsPayload{Events: frames}); err != nil {
			return err
		}
	}

	if clockMissingFrom(localClock, payload.Clock) {
		if err := conn.send(TypeGetEvents, GetEventsPayload{Clock: localClock}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleGetEvents(ctx context.Context, conn *Connection, msg Message) error {
	var payload GetEventsPayload
	if err := msg.decode(&payload); err != nil {
		return err
	}
	envs, err := e.store.EventsSince(ctx, payload.Clock)
	if err != nil {
		return fmt.Errorf("syncengine: computing events_since for GetEvents: %w", err)
	}
	frames, err := e.encryptBatch(envs)
	if err != nil {
		return fmt.Errorf("syncengine: encrypting Events batch: %w", err)
	}
	return conn.send(TypeEvents, EventsPayload{Events: frames})
}

// handleEvents applies the reply to this device's own GetEvents
// request. There is no response to a response in this
// protocol; failures here close the stream like any other decode or
// ingest failure (§7).
func (e *Engine) handleEvents(ctx context.Context, conn *Connection, msg Message) error {
	var payload EventsPayload
	if err := msg.decode(&payload); err != nil {
		return err
	}
	_, err := e.ingestFrames(ctx, payload.Events)
	return err
}

func (e *Engine) handlePushEvents(ctx context.Context, conn *Connection, msg Message) error {
	var payload PushEventsPayload
	if err := msg.decode(&payload); err != nil {
		return err
	}
	count, err := e.ingestFrames(ctx, payload.Events)
	if err != nil {
		return err
	}
	return conn.send(TypeAck, AckPayload{Count: count})
}

// handleSendTab is the §4.6 shortcut: fabricate and apply a TabSent
// envelope addressed to this device, bypassing the normal
// decrypt-then-ingest path entirely, then acknowledge.
func (e *Engine) handleSendTab(ctx context.Context, conn *Connection, msg Message) error {
	var payload SendTabPayload
	if err := msg.decode(&payload); err != nil {
		return err
	}
	event, err := envelope.NewEvent(envelope.TypeTabSent, envelope.TabSentPayload{
		ToDevice: e.localDevice.String(),
		URL:      payload.URL,
		Title:    payload.Title,
	})
	if err != nil {
		return fmt.Errorf("syncengine: building TabSent event: %w", err)
	}
	if _, err := e.store.AppendLocal(ctx, e.localDevice, event, e.clock.Now()); err != nil {
		return fmt.Errorf("syncengine: applying SendTab: %w", err)
	}
	return conn.send(TypeTabReceived, nil)
}

// ingestFrames decrypts every FramePush in frames and ingests the
// envelopes it carries, returning the count newly applied (Duplicates
// don't count, matching Ack's "count_applied" semantics in §4.6).
func (e *Engine) ingestFrames(ctx context.Context, frames []FramePush) (int, error) {
	if len(frames) == 0 {
		return 0, nil
	}
	key, err := e.groupSecret()
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, fp := range frames {
		if fp.Frame == nil {
			return 0, fmt.Errorf("syncengine: %w: nil frame", secureframe.ErrInvalidFrame)
		}
		plaintext, err := fp.Frame.Decrypt(fp.Device, fp.Counter, key)
		if err != nil {
			return 0, fmt.Errorf("syncengine: decrypting frame from %s: %w", fp.Device, err)
		}
		var envs []envelope.Envelope
		if err := json.Unmarshal(plaintext, &envs); err != nil {
			return 0, fmt.Errorf("syncengine: decoding decrypted envelopes: %w", err)
		}
		for _, env := range envs {
			result, err := e.store.Ingest(ctx, env)
			if err != nil {
				return 0, fmt.Errorf("syncengine: ingesting envelope %s: %w", env.ID, err)
			}
			if result == eventlog.Applied {
				applied++
			}
		}
	}
	return applied, nil
}

// encryptBatch groups envs by authoring device and encrypts one frame
// per author, using that author's highest counter within the group to
// derive the nonce (see FramePush's doc comment and DESIGN.md).
func (e *Engine) encryptBatch(envs []envelope.Envelope) ([]FramePush, error) {
	if len(envs) == 0 {
		return nil, nil
	}
	key, err := e.groupSecret()
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]envelope.Envelope)
	for _, env := range envs {
		author := env.Device.String()
		groups[author] = append(groups[author], env)
	}
	authors := make([]string, 0, len(groups))
	for author := range groups {
		authors = append(authors, author)
	}
	sort.Strings(authors)

	frames := make([]FramePush, 0, len(authors))
	for _, author := range authors {
		group := groups[author]
		plaintext, err := json.Marshal(group)
		if err != nil {
			return nil, fmt.Errorf("syncengine: marshaling envelope batch for %s: %w", author, err)
		}
		counter := tipCounter(group, author)
		frame, err := secureframe.Encrypt(author, counter, key, e.keypair.PublicKey, plaintext)
		if err != nil {
			return nil, fmt.Errorf("syncengine: encrypting batch for %s: %w", author, err)
		}
		frames = append(frames, FramePush{Frame: frame, Device: author, Counter: counter})
	}
	return frames, nil
}

func tipCounter(envs []envelope.Envelope, author string) uint64 {
	var tip uint64
	for _, env := range envs {
		if c := env.Clock.Get(author); c > tip {
			tip = c
		}
	}
	return tip
}

// Broadcast encrypts envs and pushes them to every currently connected
// peer, fire-and-forget (§4.6's "On local append" rule and §6.4's
// broadcast collaborator interface). A peer whose send fails is
// dropped from the connection set; the durable retry path is the next
// initial exchange, not a retry here.
func (e *Engine) Broadcast(ctx context.Context, envs []envelope.Envelope) {
	if len(envs) == 0 {
		return
	}
	frames, err := e.encryptBatch(envs)
	if err != nil {
		e.logger.Error("syncengine: broadcast encrypt failed", "error", err)
		return
	}

	e.mu.RLock()
	peers := make([]*Connection, 0, len(e.connections))
	for _, conn := range e.connections {
		peers = append(peers, conn)
	}
	e.mu.RUnlock()

	for _, conn := range peers {
		if err := conn.send(TypePushEvents, PushEventsPayload{Events: frames}); err != nil {
			e.logger.Warn("syncengine: broadcast send failed", "peer", conn.peerID, "error", err)
			// Closing the stream ends that peer's HandleStream loop,
			// which removes it from the connection set.
			conn.Close()
		}
	}
}

// clockMissingFrom reports whether remote has a counter for some
// device that local has not yet reached — the §4.6 step 4 condition
// for requesting the remainder of remote's log with GetEvents.
func clockMissingFrom(local, remote vectorclock.Clock) bool {
	for _, device := range remote.Devices() {
		if remote.Get(device) > local.Get(device) {
			return true
		}
	}
	return false
}
