// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

// Package envelope implements the immutable event envelope (C2):
// construction is the atomic triple of acquiring a write lease on the
// authoring device's vector clock, ticking it, and materializing the
// resulting record. Envelopes serialize to the canonical tagged JSON
// form described in spec §6.1.
package envelope

import (
	"fmt"
	"time"

	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/eventid"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

// Envelope is an immutable record wrapping one authored event.
// Envelopes are considered equal iff their ID fields match — every
// other field is advisory for humans and replay protection (§4.2).
type Envelope struct {
	ID        eventid.EventID      `json:"id"`
	Timestamp Timestamp            `json:"timestamp"`
	Device    deviceid.DeviceID    `json:"device"`
	Clock     vectorclock.Clock    `json:"clock"`
	Event     Event                `json:"event"`
}

// New constructs an envelope for event, authored by device, using the
// clock snapshot taken *after* device's own counter was incremented
// (I1). Callers are responsible for performing that tick under the
// event log's write lease before calling New — this keeps Envelope
// construction itself a pure function with no hidden side effects.
func New(device deviceid.DeviceID, tickedClock vectorclock.Clock, event Event, now time.Time) Envelope {
	return Envelope{
		ID:        eventid.New(),
		Timestamp: Timestamp(now),
		Device:    device,
		Clock:     tickedClock,
		Event:     event,
	}
}

// Equal reports whether two envelopes share the same ID (§4.2).
func (e Envelope) Equal(other Envelope) bool {
	return e.ID.Equal(other.ID)
}

// AuthorCounter returns the envelope's counter for its own author —
// the value that I1 requires to equal previous_clock[device] + 1.
func (e Envelope) AuthorCounter() uint64 {
	return e.Clock.Get(e.Device.String())
}

// Timestamp wraps time.Time to enforce the canonical ISO-8601 form
// the total-order tiebreak in §4.5 depends on: UTC, padded fractional
// seconds, 'Z' suffix. Timestamp-tiebreak comparisons are correct only
// when every peer emits exactly this form (§9 open question).
type Timestamp time.Time

// Canonical returns the RFC3339 representation used for the §4.5
// tiebreak and for wire serialization: UTC, nanosecond precision,
// "Z" suffix.
func (t Timestamp) Canonical() string {
	return time.Time(t).UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Canonical() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. Only RFC3339 strings are
// accepted; malformed input is a parse error, converted by callers per
// §7 into a closed stream rather than a panic.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("envelope: timestamp must be a JSON string")
	}
	parsed, err := time.Parse(`"`+"2006-01-02T15:04:05.000000000Z"+`"`, string(data))
	if err != nil {
		// Fall back to general RFC3339 parsing for peers that emit a
		// shorter fractional-second precision; the canonical form is
		// still what this device emits on the wire.
		parsed, err = time.Parse(`"`+time.RFC3339Nano+`"`, string(data))
		if err != nil {
			return fmt.Errorf("envelope: invalid timestamp %s: %w", data, err)
		}
	}
	*t = Timestamp(parsed.UTC())
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }
