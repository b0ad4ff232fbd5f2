// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package deviceid provides the device identity value type shared by
// every component that authors or references an envelope.
package deviceid

import (
	"fmt"

	"github.com/google/uuid"
)

// DeviceID is a stable opaque identifier for a device, generated once
// per device (UUID v7 by convention — its embedded timestamp makes
// device IDs roughly time-sortable, though nothing in the core relies
// on that). It is used as the author tag in event envelopes and as the
// seed for per-device AEAD nonce prefixes (see lib/secureframe).
//
// DeviceID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type DeviceID struct {
	id string
}

// New generates a fresh device identity.
func New() DeviceID {
	return DeviceID{id: uuid.Must(uuid.NewV7()).String()}
}

// Parse validates and wraps a raw device ID string. Returns an error
// if the string is empty. Unlike UUID-specific parsers, Parse does not
// require the value to be a syntactically valid UUID — device IDs
// generated by a future client version are still accepted; this mirrors
// the unknown-event-type forward-compatibility policy in §6.1.
func Parse(raw string) (DeviceID, error) {
	if raw == "" {
		return DeviceID{}, fmt.Errorf("deviceid: empty device ID")
	}
	return DeviceID{id: raw}, nil
}

// MustParse is like Parse but panics on error. Use in tests and static
// initialization where the input is known-valid.
func MustParse(raw string) DeviceID {
	d, err := Parse(raw)
	if err != nil {
		panic(fmt.Sprintf("deviceid.MustParse(%q): %v", raw, err))
	}
	return d
}

// String returns the raw device ID string.
func (d DeviceID) String() string { return d.id }

// IsZero reports whether the DeviceID is the zero value.
func (d DeviceID) IsZero() bool { return d.id == "" }

// Equal reports whether two device IDs are the same identity.
func (d DeviceID) Equal(other DeviceID) bool { return d.id == other.id }

// Less provides the lexicographic comparison used as the final
// tiebreaker in the event log's total order (§4.5, rule 3).
func (d DeviceID) Less(other DeviceID) bool { return d.id < other.id }

// MarshalText implements encoding.TextMarshaler.
func (d DeviceID) MarshalText() ([]byte, error) {
	if d.id == "" {
		return nil, fmt.Errorf("deviceid: cannot marshal zero DeviceID")
	}
	return []byte(d.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (d *DeviceID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = DeviceID{}
		return nil
	}
	*d = DeviceID{id: string(data)}
	return nil
}
