// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger records which response fields each client surface receives
// for each operation.
//
// # Description
//
// The ledger is keyed by (surface, operation). Each entry counts how many
// responses were folded in and, per field path, in how many of those
// responses the path was present. Entries are created lazily, counts only
// ever increase, and nothing is evicted.
//
//	Surface "HOME_SCREEN"
//	   │
//	   └─► Operation "user"
//	           ├─ Observations: 5
//	           └─ FieldCounts:  user.name=5, user.email=1
//
// # Thread Safety
//
// MemoryStore is safe for concurrent use. Each entry is guarded by its own
// mutex so concurrent observations never lose increments, and Get copies an
// entry under that mutex so readers never see a count from one update paired
// with field counts from another.
package ledger

// DefaultSurface is used when a request does not name its surface.
const DefaultSurface = "default_screen"

// Entry is a point-in-time copy of one (surface, operation) ledger record.
//
// # Fields
//
//   - Observations: Number of responses folded into this entry.
//   - FieldCounts: Per path, the number of responses that carried it.
//
// # Limitations
//
//   - FieldCounts of a child path is expected, not guaranteed, to be no
//     larger than its parent's. Consumers treat every path independently.
type Entry struct {
	Observations int64            `json:"observations"`
	FieldCounts  map[string]int64 `json:"field_counts"`
}

// Reader is the read side of a Store.
type Reader interface {
	// Get returns a copy of the entry for (surface, op).
	//
	// The second result is false when no response has been recorded yet.
	Get(surface, op string) (Entry, bool)
}

// Store is the injectable backing for the usage ledger.
//
// # Description
//
// Store abstracts the learning state so tests can use isolated instances
// and deployments can swap the backing implementation.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. RecordObservation must
// not lose increments under concurrent calls for the same key.
type Store interface {
	Reader

	// RecordObservation folds one response into the entry for (surface, op),
	// creating it if needed: Observations += 1 and FieldCounts[p] += 1 for
	// every p in paths. Paths not listed are left unchanged.
	//
	// Returns the new observation count.
	RecordObservation(surface, op string, paths []string) int64

	// Snapshot returns a deep copy of the whole ledger.
	Snapshot() Snapshot
}
