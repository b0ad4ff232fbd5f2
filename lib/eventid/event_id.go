// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventid provides the globally unique, time-sortable
// identifier carried by every event envelope.
package eventid

import (
	"fmt"

	"github.com/google/uuid"
)

// EventID is a globally unique identifier for an event envelope
// (128-bit, time-sortable — generated as a UUID v7). Two envelopes are
// considered equal iff their EventIDs match; every other field is
// advisory for humans and replay protection (§4.2).
//
// EventID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type EventID struct {
	id string
}

// New generates a fresh event identifier.
func New() EventID {
	return EventID{id: uuid.Must(uuid.NewV7()).String()}
}

// Parse validates and wraps a raw event ID string. Returns an error if
// the string is empty.
func Parse(raw string) (EventID, error) {
	if raw == "" {
		return EventID{}, fmt.Errorf("eventid: empty event ID")
	}
	return EventID{id: raw}, nil
}

// MustParse is like Parse but panics on error. Use in tests and static
// initialization where the input is known-valid.
func MustParse(raw string) EventID {
	e, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("eventid.MustParse(%q): %v", raw, err))
	}
	return e
}

// String returns the raw event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value.
func (e EventID) IsZero() bool { return e.id == "" }

// Equal reports whether two event IDs identify the same envelope.
func (e EventID) Equal(other EventID) bool { return e.id == other.id }

// MarshalText implements encoding.TextMarshaler.
func (e EventID) MarshalText() ([]byte, error) {
	if e.id == "" {
		return nil, fmt.Errorf("eventid: cannot marshal zero EventID")
	}
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	*e = EventID{id: string(data)}
	return nil
}
