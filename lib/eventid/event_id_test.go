// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package eventid

import "testing"

func TestNewProducesDistinctNonZeroIDs(t *testing.T) {
	a := New()
	b := New()

	if a.IsZero() || b.IsZero() {
		t.Fatal("New() produced a zero EventID")
	}
	if a.Equal(b) {
		t.Fatal("two calls to New() produced the same EventID")
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error parsing empty event ID")
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	id := MustParse("evt-1")

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var round EventID
	if err := round.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if !round.Equal(id) {
		t.Errorf("round-tripped ID %q != original %q", round, id)
	}
}
