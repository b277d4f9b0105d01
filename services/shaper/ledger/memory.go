// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import "sync"

// entryKey identifies one ledger entry.
type entryKey struct {
	surface string
	op      string
}

// entry is the mutable record behind an Entry.
type entry struct {
	mu           sync.Mutex
	observations int64
	fieldCounts  map[string]int64
}

func (e *entry) copyLocked() Entry {
	counts := make(map[string]int64, len(e.fieldCounts))
	for p, n := range e.fieldCounts {
		counts[p] = n
	}
	return Entry{Observations: e.observations, FieldCounts: counts}
}

// MemoryStore is the in-process Store.
//
// # Description
//
// The entry index is guarded by an RWMutex that is only write-locked when
// an entry is created. Increments happen under the per-entry mutex, so
// observations for different keys never contend.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[entryKey]*entry
}

// NewMemoryStore creates a store seeded from a snapshot.
//
// # Inputs
//
//   - seed: Previously persisted state. A zero Snapshot starts empty.
//
// # Outputs
//
//   - *MemoryStore: Ready for concurrent use.
func NewMemoryStore(seed Snapshot) *MemoryStore {
	s := &MemoryStore{entries: make(map[entryKey]*entry)}

	for surface, ops := range seed.RequestCounts {
		for op, n := range ops {
			e := s.ensure(surface, op)
			e.observations = n
		}
	}
	for surface, ops := range seed.Patterns {
		for op, fields := range ops {
			e := s.ensure(surface, op)
			for p, n := range fields {
				e.fieldCounts[p] = n
			}
		}
	}
	return s
}

// ensure returns the entry for (surface, op), creating it if needed.
func (s *MemoryStore) ensure(surface, op string) *entry {
	key := entryKey{surface: surface, op: op}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{fieldCounts: make(map[string]int64)}
	s.entries[key] = e
	return e
}

// Get implements Reader.
func (s *MemoryStore) Get(surface, op string) (Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[entryKey{surface: surface, op: op}]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyLocked(), true
}

// RecordObservation implements Store.
func (s *MemoryStore) RecordObservation(surface, op string, paths []string) int64 {
	e := s.ensure(surface, op)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations++
	for _, p := range paths {
		e.fieldCounts[p]++
	}
	return e.observations
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot() Snapshot {
	snap := NewSnapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, e := range s.entries {
		e.mu.Lock()
		copied := e.copyLocked()
		e.mu.Unlock()
		snap.Put(key.surface, key.op, copied)
	}
	return snap
}

var _ Store = (*MemoryStore)(nil)
