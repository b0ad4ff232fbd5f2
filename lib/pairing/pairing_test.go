// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package pairing_test

import (
	"testing"
	"time"

	"github.com/meshfox/meshfox/lib/clock"
	"github.com/meshfox/meshfox/lib/keymaterial"
	"github.com/meshfox/meshfox/lib/pairing"
)

func newManager(t *testing.T, fakeClock clock.Clock) (*pairing.Manager, *keymaterial.Keypair, string) {
	t.Helper()
	keys, err := keymaterial.Generate()
	if err != nil {
		t.Fatalf("keymaterial.Generate: %v", err)
	}
	t.Cleanup(func() { keys.Close() })

	peerDir := t.TempDir()
	mgr := pairing.New(pairing.Config{
		LocalDeviceID: "device-a",
		LocalKeys:     keys,
		Peers:         keymaterial.NewPeerStore(peerDir),
		Clock:         fakeClock,
	})
	return mgr, keys, peerDir
}

// TestPairingSuccess exercises S5: initiate, join with the correct
// code, accept, and confirm the joiner's key lands in the peer store.
func TestPairingSuccess(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, peerDir := newManager(t, fakeClock)

	code, err := mgr.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code %q is not 6 digits", code)
	}

	joinerKeys, err := keymaterial.Generate()
	if err != nil {
		t.Fatalf("keymaterial.Generate: %v", err)
	}
	defer joinerKeys.Close()

	result := mgr.Join(code, pairing.JoinerInfo{
		DeviceID:     "device-b",
		DeviceName:   "B's Laptop",
		PublicKeyHex: joinerKeys.PublicKeyHex(),
	})
	if result.Outcome != pairing.OutcomeAcceptedPending {
		t.Fatalf("Join outcome = %s, want accepted-pending", result.Outcome)
	}

	pending, ok := mgr.Pending()
	if !ok {
		t.Fatal("Pending() reports no request after a successful join")
	}
	if pending.DeviceID != "device-b" {
		t.Errorf("pending DeviceID = %q, want device-b", pending.DeviceID)
	}
	wantFingerprint := keymaterial.Fingerprint(joinerKeys.PublicKey)
	if pending.PublicKeyFingerprint != wantFingerprint {
		t.Errorf("fingerprint = %q, want %q", pending.PublicKeyFingerprint, wantFingerprint)
	}

	status, accept, err := mgr.Respond(true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != pairing.FinalAccepted {
		t.Fatalf("status = %s, want accepted", status)
	}
	if accept.DeviceID != "device-a" {
		t.Errorf("AcceptResult.DeviceID = %q, want device-a", accept.DeviceID)
	}

	if mgr.Active() {
		t.Error("session still active after Respond")
	}

	peers := keymaterial.NewPeerStore(peerDir)
	all, err := peers.All()
	if err != nil {
		t.Fatalf("peers.All: %v", err)
	}
	stored, ok := all["device-b"]
	if !ok {
		t.Fatal("joiner's public key was not persisted to the peer store")
	}
	if stored != joinerKeys.PublicKey {
		t.Error("persisted public key does not match the joiner's key")
	}
}

// TestPairingInvalidCode exercises the mismatch path: the session must
// survive a wrong guess so the joiner can retry.
func TestPairingInvalidCode(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	code, err := mgr.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	result := mgr.Join(wrong, pairing.JoinerInfo{DeviceID: "device-b"})
	if result.Outcome != pairing.OutcomeInvalidCode {
		t.Fatalf("Join outcome = %s, want invalid_code", result.Outcome)
	}

	// The session must still be usable with the correct code.
	retry := mgr.Join(code, pairing.JoinerInfo{DeviceID: "device-b", PublicKeyHex: ""})
	if retry.Outcome != pairing.OutcomeAcceptedPending {
		t.Fatalf("retry outcome = %s, want accepted-pending (session should survive a mismatch)", retry.Outcome)
	}
}

// TestPairingSingleUsePerCode exercises §4.7's "single attempt per
// code": once a correct code is consumed, further joins fail even
// though no new session has started.
func TestPairingSingleUsePerCode(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	code, err := mgr.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	first := mgr.Join(code, pairing.JoinerInfo{DeviceID: "device-b"})
	if first.Outcome != pairing.OutcomeAcceptedPending {
		t.Fatalf("first join outcome = %s, want accepted-pending", first.Outcome)
	}

	second := mgr.Join(code, pairing.JoinerInfo{DeviceID: "device-c"})
	if second.Outcome != pairing.OutcomeInvalidCode {
		t.Fatalf("second join (same code) outcome = %s, want invalid_code", second.Outcome)
	}
}

// TestPairingRejected exercises the reject branch of §4.7 step 4.
func TestPairingRejected(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	code, err := mgr.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	mgr.Join(code, pairing.JoinerInfo{DeviceID: "device-b", PublicKeyHex: ""})

	status, accept, err := mgr.Respond(false)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != pairing.FinalRejected {
		t.Fatalf("status = %s, want rejected", status)
	}
	if accept != nil {
		t.Error("AcceptResult should be nil on reject")
	}
}

// TestPairingTimeout exercises S6: a join arriving after the 300s TTL
// gets expired and clears the session.
func TestPairingTimeout(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	code, err := mgr.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	fakeClock.Advance(301 * time.Second)

	result := mgr.Join(code, pairing.JoinerInfo{DeviceID: "device-b"})
	if result.Outcome != pairing.OutcomeExpired {
		t.Fatalf("Join outcome = %s, want expired", result.Outcome)
	}
	if mgr.Active() {
		t.Error("session should be cleared after expiry")
	}
}

// TestPairingAlreadyActive exercises §5's "initiating a second session
// while one is active fails fast."
func TestPairingAlreadyActive(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	if _, err := mgr.Initiate(); err != nil {
		t.Fatalf("first Initiate: %v", err)
	}
	if _, err := mgr.Initiate(); err != pairing.ErrAlreadyActive {
		t.Fatalf("second Initiate error = %v, want ErrAlreadyActive", err)
	}
}

func TestPairingCancel(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	mgr, _, _ := newManager(t, fakeClock)

	if _, err := mgr.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	mgr.Cancel()
	if mgr.Active() {
		t.Error("session still active after Cancel")
	}
	if _, err := mgr.Initiate(); err != nil {
		t.Fatalf("Initiate after Cancel: %v", err)
	}
}
