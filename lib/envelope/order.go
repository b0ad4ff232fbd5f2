// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package envelope

import "sort"

// Less implements the total order for replay defined in §4.5: higher
// sum(clock.values()) sorts later; ties broken by lexicographic
// comparison of canonical ISO-8601 timestamp strings; further ties
// broken by lexicographic comparison of device identifiers. Every
// peer must implement these three tiebreakers identically — this is
// the only place in the module that may encode them, so that
// convergence (P7) cannot drift between call sites.
func Less(a, b Envelope) bool {
	sumA, sumB := a.Clock.Sum(), b.Clock.Sum()
	if sumA != sumB {
		return sumA < sumB
	}

	tsA, tsB := a.Timestamp.Canonical(), b.Timestamp.Canonical()
	if tsA != tsB {
		return tsA < tsB
	}

	return a.Device.String() < b.Device.String()
}

// SortForReplay orders envelopes in place according to Less, the
// total order that replaying the full log (I6) and the sync engine's
// events_since stream (P6) must both respect.
func SortForReplay(envelopes []Envelope) {
	sort.Slice(envelopes, func(i, j int) bool {
		return Less(envelopes[i], envelopes[j])
	})
}
