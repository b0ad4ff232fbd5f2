// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncengine implements the peer-to-peer request/response
// state machine (C6) that drives the event log forward: a per-peer
// byte stream carrying framed, JSON-encoded tagged messages, built on
// top of lib/eventlog for storage and lib/secureframe/lib/keymaterial
// for wire encryption.
package syncengine

import (
	"encoding/json"
	"fmt"

	"github.com/meshfox/meshfox/lib/secureframe"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

// MessageType tags the peer message taxonomy in §6.3.
type MessageType string

const (
	TypeGetClock    MessageType = "GetClock"
	TypeGetEvents   MessageType = "GetEvents"
	TypePushEvents  MessageType = "PushEvents"
	TypeSendTab     MessageType = "SendTab"
	TypeClock       MessageType = "Clock"
	TypeEvents      MessageType = "Events"
	TypeAck         MessageType = "Ack"
	TypeTabReceived MessageType = "TabReceived"
	TypeError       MessageType = "Error"
)

// Message is the tagged envelope every peer message is wrapped in
// before being written to the stream, one JSON value per message
// (newline-delimited by the underlying json.Encoder/Decoder pair —
// see Connection).
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// newMessage marshals payload (nil for the empty-body messages
// GetClock, SendTab's sibling TabReceived, etc.) into a tagged
// Message.
func newMessage(t MessageType, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("syncengine: encoding %s payload: %w", t, err)
	}
	return Message{Type: t, Data: data}, nil
}

// decode unmarshals the message's data into dst.
func (m Message) decode(dst any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, dst); err != nil {
		return fmt.Errorf("syncengine: decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// FramePush pairs a secure frame with the (device, counter) identity
// its sender used to derive its nonce. §6.3's taxonomy describes
// PushEvents/Events as carrying a bare frame list; the frame's binary
// and wire forms (§6.2) carry no author or counter field, and
// secureframe.Frame.Decrypt needs both to reconstruct the expected
// nonce before it can verify the AEAD tag. FramePush is the minimal
// addition that closes that gap: frames pushed in one PushEvents or
// Events message are grouped by their envelopes' authoring device, one
// frame per author, each tagged with that author's highest counter in
// the group — see DESIGN.md's Open Questions entry on multi-envelope
// batch nonces.
type FramePush struct {
	Frame   *secureframe.Frame `json:"frame"`
	Device  string             `json:"device"`
	Counter uint64             `json:"counter"`
}

// GetEventsPayload is the request body for TypeGetEvents.
type GetEventsPayload struct {
	Clock vectorclock.Clock `json:"clock"`
}

// PushEventsPayload is the request body for TypePushEvents.
type PushEventsPayload struct {
	Events []FramePush `json:"events"`
}

// SendTabPayload is the request body for TypeSendTab.
type SendTabPayload struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	FromDevice string `json:"from_device"`
}

// ClockPayload is the response body for TypeClock.
type ClockPayload struct {
	Clock      vectorclock.Clock `json:"clock"`
	DeviceID   string            `json:"device_id"`
	DeviceName string            `json:"device_name"`
}

// EventsPayload is the response body for TypeEvents.
type EventsPayload struct {
	Events []FramePush `json:"events"`
}

// AckPayload is the response body for TypeAck.
type AckPayload struct {
	Count int `json:"count"`
}

// ErrorPayload is the response body for TypeError.
type ErrorPayload struct {
	Message string `json:"message"`
}
