// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides device-to-device byte streams for the
// replication protocol (§4.6).
//
// The package defines two interfaces: [Listener] accepts inbound
// connections from peer devices (Serve, Address, Close), and [Dialer]
// establishes outbound connections to a remote peer (DialContext). The
// daemon passes a Listener's accepted connections to
// core.Core.OnPeerStream, which runs the sync protocol's request/response
// loop over the raw stream; it has no opinion on how the bytes got
// there. core never imports this package directly, keeping the
// replicated event log transport-agnostic per §6.4's "Transport → core"
// boundary.
//
// [TCPListener] and [TCPDialer] are the reference implementation: plain
// TCP, no NAT traversal or discovery. A production deployment on an
// untrusted network would sit a real peer-to-peer substrate (WebRTC
// data channels, a relay, or a VPN mesh) behind the same two
// interfaces — deliberately out of scope here (§1).
package transport
