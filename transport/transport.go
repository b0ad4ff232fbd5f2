// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// Listener accepts inbound peer connections for the replication
// protocol (§4.6, the "Transport → core: on_peer_stream" boundary of
// §6.4). The daemon creates one Listener and calls Serve with a
// StreamHandler that hands each accepted connection to
// core.Core.OnPeerStream.
type Listener interface {
	// Serve accepts connections until ctx is cancelled or Close is
	// called, invoking onStream once per accepted connection. Blocks
	// until shutdown; returns nil on clean shutdown.
	Serve(ctx context.Context, onStream StreamHandler) error

	// Address returns the address to publish to a peer during pairing
	// (§4.7) so it can dial back. The format is transport-specific,
	// e.g. "192.168.1.10:7891" for TCP.
	Address() string

	// Close shuts down the listener. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// StreamHandler is invoked once per accepted connection. peerAddr is
// the remote transport address, not yet a verified device identity —
// the sync protocol's initial clock exchange (syncengine's
// handleClock) is what actually binds the stream to a device_id.
// Implementations own stream's lifetime and close it once handling
// returns.
type StreamHandler func(ctx context.Context, peerAddr string, stream net.Conn)

// Dialer opens outbound connections to peer daemons, used when this
// device initiates a sync session rather than receiving one.
type Dialer interface {
	// DialContext opens a connection to a peer daemon at address, in
	// the format returned by that peer's Listener.Address().
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
