// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/envelope"
	"github.com/meshfox/meshfox/lib/eventlog"
	"github.com/meshfox/meshfox/lib/keymaterial"
	"github.com/meshfox/meshfox/lib/syncengine"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

func jsonEncoder(w io.Writer) *json.Encoder { return json.NewEncoder(w) }
func jsonDecoder(r io.Reader) *json.Decoder { return json.NewDecoder(r) }

// fixture is one simulated device: its own event log, keypair, and
// paired-peer set.
type fixture struct {
	device  deviceid.DeviceID
	store   *eventlog.Store
	keypair *keymaterial.Keypair
	peers   *keymaterial.PeerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	device := deviceid.New()

	store, err := eventlog.Open(eventlog.Config{
		Path:        filepath.Join(t.TempDir(), "state.db"),
		LocalDevice: device,
		PoolSize:    1,
	})
	if err != nil {
		t.Fatalf("eventlog.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	keypair, err := keymaterial.Generate()
	if err != nil {
		t.Fatalf("keymaterial.Generate: %v", err)
	}
	t.Cleanup(func() { keypair.Close() })

	return &fixture{
		device:  device,
		store:   store,
		keypair: keypair,
		peers:   keymaterial.NewPeerStore(t.TempDir()),
	}
}

// pair records each fixture's public key with the other, the
// precondition for GroupSecret to agree between them (§4.4).
func pair(t *testing.T, a, b *fixture) {
	t.Helper()
	if err := a.peers.Add(b.device.String(), b.keypair.PublicKey); err != nil {
		t.Fatalf("pairing a<-b: %v", err)
	}
	if err := b.peers.Add(a.device.String(), a.keypair.PublicKey); err != nil {
		t.Fatalf("pairing b<-a: %v", err)
	}
}

func buildEngine(t *testing.T, f *fixture, name string) *syncengine.Engine {
	t.Helper()
	engine, err := syncengine.New(syncengine.Config{
		LocalDevice: f.device,
		DeviceName:  name,
		Store:       f.store,
		Keypair:     f.keypair,
		Peers:       f.peers,
	})
	if err != nil {
		t.Fatalf("syncengine.New: %v", err)
	}
	return engine
}

// dialedPipe returns a connected pair of TCP loopback sockets. Unlike
// net.Pipe, real sockets are kernel-buffered, so both peers can write
// their unsolicited initial GetClock before either has read anything
// — exactly what the sync engine's initial exchange does on both
// sides of a fresh connection.
func dialedPipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverCh <- nil
			return
		}
		serverCh <- conn
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	server := <-serverCh
	if server == nil {
		t.Fatal("accept failed")
	}
	return client, server
}

// runExchange connects two engines over loopback sockets, lets the
// initial exchange run to completion, then cancels both loops. It
// returns once both HandleStream calls have returned.
func runExchange(t *testing.T, engineA, engineB *syncengine.Engine) {
	t.Helper()
	connA, connB := dialedPipe(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 2)
	go func() { errCh <- engineA.HandleStream(ctx, "b", connA) }()
	go func() { errCh <- engineB.HandleStream(ctx, "a", connB) }()

	// Give the initial GetClock/Clock/PushEvents/GetEvents exchange
	// time to settle before tearing the streams down.
	time.Sleep(200 * time.Millisecond)
	cancel()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			t.Errorf("HandleStream returned unexpected error: %v", err)
		}
	}
}

func TestInitialExchangeConvergesSingleAuthor(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	pair(t, a, b)

	ctx := context.Background()

	event1, err := envelope.NewEvent(envelope.TypeExtensionAdded, envelope.ExtensionAddedPayload{ID: "x@a", Name: "X"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := a.store.AppendLocal(ctx, a.device, event1, time.Now()); err != nil {
		t.Fatalf("AppendLocal extension: %v", err)
	}

	event2, err := envelope.NewEvent(envelope.TypePrefSet, envelope.PrefSetPayload{
		Key:   "p",
		Value: envelope.PrefValue{Type: envelope.PrefValueBool, Value: true},
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := a.store.AppendLocal(ctx, a.device, event2, time.Now()); err != nil {
		t.Fatalf("AppendLocal pref: %v", err)
	}

	engineA := buildEngine(t, a, "device-a")
	engineB := buildEngine(t, b, "device-b")
	runExchange(t, engineA, engineB)

	aClock, err := a.store.Clock(ctx)
	if err != nil {
		t.Fatalf("a.Clock: %v", err)
	}
	bClock, err := b.store.Clock(ctx)
	if err != nil {
		t.Fatalf("b.Clock: %v", err)
	}
	if aClock.Get(a.device.String()) != 2 {
		t.Errorf("a's own clock = %d, want 2", aClock.Get(a.device.String()))
	}
	if bClock.Get(a.device.String()) != 2 {
		t.Errorf("b learned clock %d for a, want 2", bClock.Get(a.device.String()))
	}

	bEvents, err := b.store.EventsSince(ctx, vectorclock.New())
	if err != nil {
		t.Fatalf("b.EventsSince: %v", err)
	}
	if len(bEvents) != 2 {
		t.Fatalf("b holds %d envelopes, want 2", len(bEvents))
	}
}

// TestConcurrentEditsConverge exercises S2: both devices add a
// container with the same id before exchanging, forcing the §4.5
// total-order tiebreak to pick a winner, and asserts both sides agree.
func TestConcurrentEditsConverge(t *testing.T) {
	a := newFixture(t)
	b := newFixture(t)
	pair(t, a, b)
	ctx := context.Background()

	eventA, err := envelope.NewEvent(envelope.TypeContainerAdded, envelope.ContainerAddedPayload{
		ID: "c", Name: "N_a", Color: "blue", Icon: "cart",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := a.store.AppendLocal(ctx, a.device, eventA, time.Now()); err != nil {
		t.Fatalf("a AppendLocal: %v", err)
	}

	eventB, err := envelope.NewEvent(envelope.TypeContainerAdded, envelope.ContainerAddedPayload{
		ID: "c", Name: "N_b", Color: "red", Icon: "cart",
	})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := b.store.AppendLocal(ctx, b.device, eventB, time.Now()); err != nil {
		t.Fatalf("b AppendLocal: %v", err)
	}

	engineA := buildEngine(t, a, "device-a")
	engineB := buildEngine(t, b, "device-b")
	runExchange(t, engineA, engineB)

	aClock, err := a.store.Clock(ctx)
	if err != nil {
		t.Fatalf("a.Clock: %v", err)
	}
	bClock, err := b.store.Clock(ctx)
	if err != nil {
		t.Fatalf("b.Clock: %v", err)
	}
	if aClock.Get(a.device.String()) != bClock.Get(a.device.String()) || aClock.Get(b.device.String()) != bClock.Get(b.device.String()) {
		t.Fatalf("clocks diverged: a=%v b=%v", aClock.Snapshot(), bClock.Snapshot())
	}

	aEnvs, err := a.store.EventsSince(ctx, vectorclock.New())
	if err != nil {
		t.Fatalf("a.EventsSince: %v", err)
	}
	bEnvs, err := b.store.EventsSince(ctx, vectorclock.New())
	if err != nil {
		t.Fatalf("b.EventsSince: %v", err)
	}
	if len(aEnvs) != 2 || len(bEnvs) != 2 {
		t.Fatalf("expected both logs to hold 2 envelopes, got a=%d b=%d", len(aEnvs), len(bEnvs))
	}
	envelope.SortForReplay(aEnvs)
	envelope.SortForReplay(bEnvs)
	if !aEnvs[len(aEnvs)-1].Equal(bEnvs[len(bEnvs)-1]) {
		t.Fatalf("a and b disagree on which concurrent envelope sorts last")
	}
}

// TestSendTabShortcut drives the raw wire protocol directly (rather
// than through a second Engine) to exercise §4.6's SendTab shortcut in
// isolation: send SendTab, expect TabReceived, and confirm the
// receiving device's own clock advanced by exactly one.
func TestSendTabShortcut(t *testing.T) {
	b := newFixture(t)
	engineB := buildEngine(t, b, "device-b")

	connClient, connServer := dialedPipe(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- engineB.HandleStream(ctx, "client", connServer) }()

	enc := jsonEncoder(connClient)
	dec := jsonDecoder(connClient)

	// Drain the initial GetClock request the engine sends on connect.
	var getClock syncengine.Message
	if err := dec.Decode(&getClock); err != nil {
		t.Fatalf("decoding initial GetClock: %v", err)
	}
	if getClock.Type != syncengine.TypeGetClock {
		t.Fatalf("initial message type = %s, want GetClock", getClock.Type)
	}

	sendTab, err := json.Marshal(syncengine.SendTabPayload{URL: "https://example.com", Title: "Ex", FromDevice: "somewhere"})
	if err != nil {
		t.Fatalf("marshal SendTab: %v", err)
	}
	if err := enc.Encode(syncengine.Message{Type: syncengine.TypeSendTab, Data: sendTab}); err != nil {
		t.Fatalf("sending SendTab: %v", err)
	}

	var reply syncengine.Message
	if err := dec.Decode(&reply); err != nil {
		t.Fatalf("decoding TabReceived: %v", err)
	}
	if reply.Type != syncengine.TypeTabReceived {
		t.Fatalf("reply type = %s, want TabReceived", reply.Type)
	}

	cancel()
	connClient.Close()
	<-errCh

	clock, err := b.store.Clock(context.Background())
	if err != nil {
		t.Fatalf("b.Clock: %v", err)
	}
	if clock.Get(b.device.String()) != 1 {
		t.Errorf("b's own clock = %d, want 1 after SendTab", clock.Get(b.device.String()))
	}
}
