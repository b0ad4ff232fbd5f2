// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package pairing implements the single-session code-and-accept
// rendezvous (C7): an initiating device publishes a short-lived
// numeric code out-of-band, a joiner submits it along with its
// identity, and the initiator's operator accepts or rejects the
// pending request.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/meshfox/meshfox/lib/clock"
	"github.com/meshfox/meshfox/lib/keymaterial"
)

// codeMin and codeMax bound the uniformly random 6-digit code space
// (§4.7 step 1: "[100000, 999999]").
const (
	codeMin = 100000
	codeMax = 999999

	// sessionTTL is the fixed session lifetime (§4.7: "fixed
	// 300-second TTL").
	sessionTTL = 300 * time.Second
)

// Outcome is the result reported back from Join.
type Outcome string

const (
	OutcomeAcceptedPending Outcome = "accepted-pending"
	OutcomeInvalidCode     Outcome = "invalid_code"
	OutcomeExpired         Outcome = "expired"
)

// FinalStatus is the terminal state a session settles into once the
// operator responds, reported to whatever carries the answer back to
// the joiner.
type FinalStatus string

const (
	FinalAccepted FinalStatus = "accepted"
	FinalRejected FinalStatus = "rejected"
)

// JoinerInfo is what a joining device submits alongside the code
// (§4.7 step 2).
type JoinerInfo struct {
	DeviceID     string
	DeviceName   string
	PublicKeyHex string
}

// JoinResult is the immediate response to a Join call.
type JoinResult struct {
	Outcome Outcome
}

// PendingRequest is what the operator inspects before deciding
// (§4.7 step 3): the joiner's identity and a public-key fingerprint
// rather than the raw key.
type PendingRequest struct {
	DeviceID             string
	DeviceName           string
	PublicKeyFingerprint string
}

// AcceptResult is returned to the caller of Respond(accept=true) so it
// can carry the initiator's identity back to the joiner over whatever
// transport brokered the handshake (§4.7 step 4: "status to joiner
// becomes accepted with the initiator's identity").
type AcceptResult struct {
	DeviceID     string
	PublicKeyHex string
}

var (
	// ErrAlreadyActive is returned by Initiate when a session is
	// already in progress (§5: "attempts to initiate a second session
	// while one is active fail fast").
	ErrAlreadyActive = fmt.Errorf("pairing: a session is already active")

	// ErrNoSession is returned by Pending/Respond/Cancel when no
	// session exists, or when one exists but has not yet reached the
	// state the call expects.
	ErrNoSession = fmt.Errorf("pairing: no session in progress")

	// ErrAlreadyDecided is returned by Respond if the pending request
	// has already been accepted or rejected.
	ErrAlreadyDecided = fmt.Errorf("pairing: request already decided")
)

type phase int

const (
	phaseWaitingForJoiner phase = iota
	phasePendingApproval
)

// session is the single mutable pairing session. Guarded entirely by
// Manager.mu; never accessed outside it.
type session struct {
	code      int
	expiresAt time.Time
	phase     phase

	joiner JoinerInfo
}

// Manager owns the single active pairing session and the peer store
// any accepted joiner's public key lands in. One Manager exists per
// device (§9: "the pairing-session singleton").
type Manager struct {
	localDevice string
	localKeys   *keymaterial.Keypair
	peers       *keymaterial.PeerStore
	clock       clock.Clock

	mu      sync.Mutex
	current *session
}

// Config constructs a Manager.
type Config struct {
	LocalDeviceID string
	LocalKeys     *keymaterial.Keypair
	Peers         *keymaterial.PeerStore

	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	c := cfg.Clock
	if c == nil {
		c = clock.Real()
	}
	return &Manager{
		localDevice: cfg.LocalDeviceID,
		localKeys:   cfg.LocalKeys,
		peers:       cfg.Peers,
		clock:       c,
	}
}

// Initiate starts a new session and returns the code to publish
// out-of-band. Fails if a session is already active.
func (m *Manager) Initiate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return "", ErrAlreadyActive
	}

	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("pairing: generating code: %w", err)
	}

	m.current = &session{
		code:      code,
		expiresAt: m.clock.Now().Add(sessionTTL),
		phase:     phaseWaitingForJoiner,
	}
	return formatCode(code), nil
}

// Join evaluates a joiner's submitted code (§4.7 step 2). A mismatch
// leaves the session untouched so the joiner can retype; a correct
// code consumes the session (moves it to pendingApproval) regardless
// of whether it later succeeds, per §4.7's "single attempt per code."
func (m *Manager) Join(code string, info JoinerInfo) JoinResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.phase != phaseWaitingForJoiner {
		return JoinResult{Outcome: OutcomeInvalidCode}
	}

	submitted, err := parseCode(code)
	if err != nil || submitted != m.current.code {
		return JoinResult{Outcome: OutcomeInvalidCode}
	}

	if m.clock.Now().After(m.current.expiresAt) {
		m.current = nil
		return JoinResult{Outcome: OutcomeExpired}
	}

	m.current.phase = phasePendingApproval
	m.current.joiner = info
	return JoinResult{Outcome: OutcomeAcceptedPending}
}

// Pending returns the request awaiting the operator's decision, if
// any. The second return value is false when no session exists or the
// active session hasn't yet received a join submission.
func (m *Manager) Pending() (PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.phase != phasePendingApproval {
		return PendingRequest{}, false
	}

	pk, err := keymaterial.ParsePublicKeyHex(m.current.joiner.PublicKeyHex)
	fingerprint := ""
	if err == nil {
		fingerprint = keymaterial.Fingerprint(pk)
	}

	return PendingRequest{
		DeviceID:             m.current.joiner.DeviceID,
		DeviceName:           m.current.joiner.DeviceName,
		PublicKeyFingerprint: fingerprint,
	}, true
}

// Respond records the operator's accept/reject decision (§4.7 step 4).
// On accept, the joiner's public key is persisted to the peer store
// and this device's own identity is returned so the caller can relay
// it back to the joiner. The session ends either way.
func (m *Manager) Respond(accept bool) (FinalStatus, *AcceptResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.phase != phasePendingApproval {
		return "", nil, ErrNoSession
	}

	joiner := m.current.joiner
	m.current = nil

	if !accept {
		return FinalRejected, nil, nil
	}

	pk, err := keymaterial.ParsePublicKeyHex(joiner.PublicKeyHex)
	if err != nil {
		return "", nil, fmt.Errorf("pairing: joiner public key: %w", err)
	}
	if err := m.peers.Add(joiner.DeviceID, pk); err != nil {
		return "", nil, fmt.Errorf("pairing: persisting joiner key: %w", err)
	}

	return FinalAccepted, &AcceptResult{
		DeviceID:     m.localDevice,
		PublicKeyHex: m.localKeys.PublicKeyHex(),
	}, nil
}

// Cancel aborts the active session, if any. Idempotent.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

// Active reports whether a session currently exists (used by the
// control surface's read-only "status" verb).
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func randomCode() (int, error) {
	span := big.NewInt(codeMax - codeMin + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return codeMin + int(n.Int64()), nil
}

func formatCode(code int) string {
	return fmt.Sprintf("%06d", code)
}

func parseCode(s string) (int, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("pairing: code must be 6 digits")
	}
	var n int
	if _, err := fmt.Sscanf(s, "%06d", &n); err != nil {
		return 0, fmt.Errorf("pairing: invalid code: %w", err)
	}
	if n < codeMin || n > codeMax {
		return 0, fmt.Errorf("pairing: code out of range")
	}
	return n, nil
}
