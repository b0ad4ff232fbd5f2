// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package vectorclock

import (
	"encoding/json"
	"testing"
)

func TestTickIncrementsOnlySelf(t *testing.T) {
	c := New().Tick("A").Tick("A")

	if c.Get("A") != 2 {
		t.Errorf("Get(A) = %d, want 2", c.Get("A"))
	}
	if c.Get("B") != 0 {
		t.Errorf("Get(B) = %d, want 0", c.Get("B"))
	}

	// Tick must not mutate the receiver (P1: counters never decrease,
	// and callers must be able to hold a stable snapshot).
	base := New().Tick("A")
	next := base.Tick("A")
	if base.Get("A") != 1 {
		t.Errorf("Tick mutated its receiver: base.Get(A) = %d, want 1", base.Get("A"))
	}
	if next.Get("A") != 2 {
		t.Errorf("next.Get(A) = %d, want 2", next.Get("A"))
	}
}

func TestMergeTakesComponentwiseMax(t *testing.T) {
	a := FromMap(map[string]uint64{"A": 3, "B": 1})
	b := FromMap(map[string]uint64{"A": 1, "B": 5, "C": 2})

	merged := Merge(a, b)

	if merged.Get("A") != 3 {
		t.Errorf("Get(A) = %d, want 3", merged.Get("A"))
	}
	if merged.Get("B") != 5 {
		t.Errorf("Get(B) = %d, want 5", merged.Get("B"))
	}
	if merged.Get("C") != 2 {
		t.Errorf("Get(C) = %d, want 2", merged.Get("C"))
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]uint64
		want Order
	}{
		{"equal empty", nil, nil, Equal},
		{"equal nonempty", map[string]uint64{"A": 1}, map[string]uint64{"A": 1}, Equal},
		{"before", map[string]uint64{"A": 1}, map[string]uint64{"A": 2}, Before},
		{"after", map[string]uint64{"A": 2}, map[string]uint64{"A": 1}, After},
		{"concurrent", map[string]uint64{"A": 1, "B": 0}, map[string]uint64{"A": 0, "B": 1}, Concurrent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(FromMap(tt.a), FromMap(tt.b))
			if got != tt.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSum(t *testing.T) {
	c := FromMap(map[string]uint64{"A": 2, "B": 3})
	if c.Sum() != 5 {
		t.Errorf("Sum() = %d, want 5", c.Sum())
	}
}

func TestDominates(t *testing.T) {
	c := FromMap(map[string]uint64{"A": 2})

	if !c.Dominates("A", 3) {
		t.Error("expected counter 3 to dominate persisted counter 2")
	}
	if c.Dominates("A", 2) {
		t.Error("equal counters should not dominate")
	}
	if c.Dominates("A", 1) {
		t.Error("lower counter should not dominate")
	}
	if !c.Dominates("B", 1) {
		t.Error("any positive counter for an unseen device should dominate")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := FromMap(map[string]uint64{"A": 2, "B": 5})

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var round Clock
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if Compare(c, round) != Equal {
		t.Errorf("round-tripped clock differs from original")
	}
}

func TestDevicesSorted(t *testing.T) {
	c := FromMap(map[string]uint64{"B": 1, "A": 1, "C": 1})
	devices := c.Devices()

	if len(devices) != 3 || devices[0] != "A" || devices[1] != "B" || devices[2] != "C" {
		t.Errorf("Devices() = %v, want sorted [A B C]", devices)
	}
}
