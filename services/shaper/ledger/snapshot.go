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

import "sort"

// Snapshot is the persisted form of the whole ledger.
//
// # Description
//
// The JSON layout is shared with learned_patterns.json files written by
// earlier deployments of the proxy, so existing learning survives upgrades:
//
//	{
//	  "screenPatterns":      { "<surface>": { "<op>": { "<path>": 5 } } },
//	  "screenRequestCounts": { "<surface>": { "<op>": 5 } }
//	}
//
// An operation present in only one of the two maps is still a valid entry:
// a missing count reads as zero and missing patterns read as empty.
type Snapshot struct {
	Patterns      map[string]map[string]map[string]int64 `json:"screenPatterns"`
	RequestCounts map[string]map[string]int64            `json:"screenRequestCounts"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() Snapshot {
	return Snapshot{
		Patterns:      make(map[string]map[string]map[string]int64),
		RequestCounts: make(map[string]map[string]int64),
	}
}

// Put stores a copy of e under (surface, op).
func (s *Snapshot) Put(surface, op string, e Entry) {
	if s.Patterns == nil || s.RequestCounts == nil {
		*s = NewSnapshot()
	}
	if s.Patterns[surface] == nil {
		s.Patterns[surface] = make(map[string]map[string]int64)
	}
	if s.RequestCounts[surface] == nil {
		s.RequestCounts[surface] = make(map[string]int64)
	}

	fields := make(map[string]int64, len(e.FieldCounts))
	for p, n := range e.FieldCounts {
		fields[p] = n
	}
	s.Patterns[surface][op] = fields
	s.RequestCounts[surface][op] = e.Observations
}

// Entry returns the entry for (surface, op) as held in the snapshot.
func (s Snapshot) Entry(surface, op string) (Entry, bool) {
	count, hasCount := s.RequestCounts[surface][op]
	fields, hasFields := s.Patterns[surface][op]
	if !hasCount && !hasFields {
		return Entry{}, false
	}

	copied := make(map[string]int64, len(fields))
	for p, n := range fields {
		copied[p] = n
	}
	return Entry{Observations: count, FieldCounts: copied}, true
}

// Get implements Reader so policies can be evaluated against a snapshot.
func (s Snapshot) Get(surface, op string) (Entry, bool) {
	return s.Entry(surface, op)
}

// Surfaces returns the sorted surface identifiers in the snapshot.
func (s Snapshot) Surfaces() []string {
	seen := make(map[string]struct{})
	for surface := range s.RequestCounts {
		seen[surface] = struct{}{}
	}
	for surface := range s.Patterns {
		seen[surface] = struct{}{}
	}
	return sortedKeys(seen)
}

// Operations returns the sorted operation keys recorded for surface.
func (s Snapshot) Operations(surface string) []string {
	seen := make(map[string]struct{})
	for op := range s.RequestCounts[surface] {
		seen[op] = struct{}{}
	}
	for op := range s.Patterns[surface] {
		seen[op] = struct{}{}
	}
	return sortedKeys(seen)
}

// Len returns the number of (surface, op) entries.
func (s Snapshot) Len() int {
	n := 0
	for _, surface := range s.Surfaces() {
		n += len(s.Operations(surface))
	}
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ Reader = Snapshot{}
