// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package deviceid

import "testing"

func TestNewProducesDistinctNonZeroIDs(t *testing.T) {
	a := New()
	b := New()

	if a.IsZero() || b.IsZero() {
		t.Fatal("New() produced a zero DeviceID")
	}
	if a.Equal(b) {
		t.Fatal("two calls to New() produced the same DeviceID")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error parsing empty device ID")
	}
}

func TestParseRoundTrip(t *testing.T) {
	id, err := Parse("device-a")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if id.String() != "device-a" {
		t.Errorf("String() = %q, want %q", id.String(), "device-a")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	id := MustParse("device-a")

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var round DeviceID
	if err := round.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if !round.Equal(id) {
		t.Errorf("round-tripped ID %q != original %q", round, id)
	}
}

func TestMarshalZeroFails(t *testing.T) {
	var zero DeviceID
	if _, err := zero.MarshalText(); err == nil {
		t.Fatal("expected error marshaling zero DeviceID")
	}
}

func TestLessMatchesLexicographicOrder(t *testing.T) {
	a := MustParse("A")
	b := MustParse("B")

	if !a.Less(b) {
		t.Error("expected \"A\" < \"B\"")
	}
	if b.Less(a) {
		t.Error("expected \"B\" not < \"A\"")
	}
}
