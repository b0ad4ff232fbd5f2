// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/meshfox/meshfox/lib/deviceid"
	"github.com/meshfox/meshfox/lib/vectorclock"
)

func TestNewAndEqual(t *testing.T) {
	device := deviceid.MustParse("A")
	event, err := NewEvent(TypePrefSet, PrefSetPayload{Key: "p", Value: PrefValue{Type: PrefValueBool, Value: true}})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}

	clock := vectorclock.New().Tick("A")
	e1 := New(device, clock, event, time.Now())
	e2 := e1

	if !e1.Equal(e2) {
		t.Error("copy of an envelope should be Equal")
	}

	other := New(device, clock, event, time.Now())
	if e1.Equal(other) {
		t.Error("two distinct New() calls produced Equal envelopes")
	}
}

func TestAuthorCounter(t *testing.T) {
	device := deviceid.MustParse("A")
	event, _ := NewEvent(TypePrefRemoved, PrefRemovedPayload{Key: "p"})
	clock := vectorclock.New().Tick("A").Tick("A")

	e := New(device, clock, event, time.Now())
	if e.AuthorCounter() != 2 {
		t.Errorf("AuthorCounter() = %d, want 2", e.AuthorCounter())
	}
}

func TestTimestampCanonicalForm(t *testing.T) {
	loc := time.FixedZone("PST", -8*3600)
	ts := Timestamp(time.Date(2026, 1, 2, 3, 4, 5, 123456789, loc))

	canonical := ts.Canonical()
	if canonical[len(canonical)-1] != 'Z' {
		t.Errorf("canonical timestamp %q does not end in Z", canonical)
	}

	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var round Timestamp
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if round.Canonical() != canonical {
		t.Errorf("round-tripped timestamp %q != original %q", round.Canonical(), canonical)
	}
}

func TestEventDecodeRoundTrip(t *testing.T) {
	payload := ExtensionAddedPayload{ID: "x@a", Name: "X"}
	event, err := NewEvent(TypeExtensionAdded, payload)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}

	var decoded ExtensionAddedPayload
	if err := event.Decode(&decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded != payload {
		t.Errorf("decoded payload %+v != original %+v", decoded, payload)
	}
}

func TestPrefValueWireFormatIsBareLiteral(t *testing.T) {
	cases := []struct {
		value PrefValue
		want  string
	}{
		{PrefValue{Type: PrefValueBool, Value: true}, "true"},
		{PrefValue{Type: PrefValueInt, Value: int64(42)}, "42"},
		{PrefValue{Type: PrefValueString, Value: "test"}, `"test"`},
	}

	for _, tc := range cases {
		data, err := json.Marshal(tc.value)
		if err != nil {
			t.Fatalf("Marshal(%+v) failed: %v", tc.value, err)
		}
		if string(data) != tc.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tc.value, data, tc.want)
		}

		var round PrefValue
		if err := json.Unmarshal(data, &round); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", data, err)
		}
		if round != tc.value {
			t.Errorf("round-tripped %+v != original %+v", round, tc.value)
		}
	}
}

func TestPrefSetPayloadWireShape(t *testing.T) {
	event, err := NewEvent(TypePrefSet, PrefSetPayload{Key: "p", Value: PrefValue{Type: PrefValueInt, Value: int64(7)}})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(event.Data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(raw["value"]) != "7" {
		t.Errorf(`payload["value"] = %s, want bare literal "7"`, raw["value"])
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	device := deviceid.MustParse("A")
	event, _ := NewEvent(TypeHandlerSet, HandlerSetPayload{Protocol: "mailto", Handler: "gmail"})
	clock := vectorclock.New().Tick("A")

	original := New(device, clock, event, time.Now())

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var round Envelope
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !round.Equal(original) {
		t.Errorf("round-tripped envelope ID %q != original %q", round.ID, original.ID)
	}
	if round.Device.String() != "A" {
		t.Errorf("round-tripped device = %q, want A", round.Device.String())
	}
	if round.AuthorCounter() != 1 {
		t.Errorf("round-tripped author counter = %d, want 1", round.AuthorCounter())
	}
}
