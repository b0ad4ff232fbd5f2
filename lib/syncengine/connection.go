// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

// Stream is the bidirectional authenticated byte stream the transport
// collaborator is assumed to provide between known peers (§1's "out of
// scope" transport substrate). A net.Conn satisfies Stream directly;
// tests use loopback TCP connections.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Connection holds the per-peer state §4.6 names:
// {peer_id, remote_device_id?, remote_clock?, in_flight_requests}. The
// "in_flight_requests" half is trivial here because every response
// this protocol defines is unambiguous from its type alone — no
// request/response correlation ID is needed.
type Connection struct {
	peerID string
	stream Stream

	writeMu sync.Mutex
	enc     *json.Encoder
	dec     *json.Decoder

	mu           sync.Mutex
	remoteDevice deviceid.DeviceID
	remoteName   string
	remoteClock  vectorclock.Clock
	haveRemote   bool
}

func newConnection(peerID string, stream Stream) *Connection {
	return &Connection{
		peerID: peerID,
		stream: stream,
		enc:    json.NewEncoder(stream),
		dec:    json.NewDecoder(stream),
	}
}

// send encodes and writes one message. Safe for concurrent use
// alongside recv and with other send calls: writeMu serializes
// writers, since both the per-peer loop and Engine.Broadcast write to
// the same Connection.
func (c *Connection) send(t MessageType, payload any) error {
	msg, err := newMessage(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(msg); err != nil {
		return fmt.Errorf("syncengine: writing %s to peer %s: %w", t, c.peerID, err)
	}
	return nil
}

// recv reads the next tagged message. Blocks until one arrives, the
// stream errors, or the stream is closed (typically by a
// context-cancellation watcher — see Engine.HandleStream).
func (c *Connection) recv() (Message, error) {
	var msg Message
	if err := c.dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("syncengine: reading from peer %s: %w", c.peerID, err)
	}
	return msg, nil
}

// Close closes the underlying stream.
func (c *Connection) Close() error {
	return c.stream.Close()
}

func (c *Connection) recordRemote(device deviceid.DeviceID, name string, clock vectorclock.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteDevice = device
	c.remoteName = name
	c.remoteClock = clock
	c.haveRemote = true
}

func (c *Connection) remote() (device deviceid.DeviceID, name string, clock vectorclock.Clock, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteDevice, c.remoteName, c.remoteClock, c.haveRemote
}
