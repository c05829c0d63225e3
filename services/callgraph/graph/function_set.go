// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sync"
)

// FunctionSet is an add-only set of functions.
//
// It backs the framework exclusion set and the pointer-used set: once a
// function is added it stays a member for the lifetime of the set. There is
// deliberately no Remove.
//
// Thread Safety: Safe for concurrent use.
type FunctionSet struct {
	mu      sync.RWMutex
	members map[FunctionID]string
}

// NewFunctionSet creates an empty set.
func NewFunctionSet() *FunctionSet {
	return &FunctionSet{members: make(map[FunctionID]string)}
}

// Add inserts id with a short reason. The first reason recorded is kept.
// Returns true if id was not already a member.
func (s *FunctionSet) Add(id FunctionID, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = reason
	return true
}

// Contains reports membership.
func (s *FunctionSet) Contains(id FunctionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

// Reason returns why id was added.
func (s *FunctionSet) Reason(id FunctionID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.members[id]
	return r, ok
}

// Len returns the number of members.
func (s *FunctionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// IDs returns the members in sorted order.
func (s *FunctionSet) IDs() []FunctionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FunctionID, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// Union adds every member of other, keeping existing reasons.
func (s *FunctionSet) Union(other *FunctionSet) {
	if other == nil || other == s {
		return
	}
	other.mu.RLock()
	snapshot := make(map[FunctionID]string, len(other.members))
	for id, r := range other.members {
		snapshot[id] = r
	}
	other.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range snapshot {
		if _, ok := s.members[id]; !ok {
			s.members[id] = r
		}
	}
}

// SetEntry is the serialized form of a FunctionSet member.
type SetEntry struct {
	ID     FunctionID `json:"id"`
	Reason string     `json:"reason,omitempty"`
}

// Entries returns the members with their reasons in sorted order.
func (s *FunctionSet) Entries() []SetEntry {
	ids := s.IDs()
	out := make([]SetEntry, 0, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range ids {
		out = append(out, SetEntry{ID: id, Reason: s.members[id]})
	}
	return out
}

// FunctionSetFromEntries rebuilds a set from Entries output.
func FunctionSetFromEntries(entries []SetEntry) *FunctionSet {
	s := NewFunctionSet()
	for _, e := range entries {
		s.Add(e.ID, e.Reason)
	}
	return s
}
