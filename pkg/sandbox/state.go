// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State is the mutable key-value store accumulated during one directive
// execution. Insertion order is preserved so the final data object
// serializes in the order operations produced it. State is owned by a single
// execution and needs no locking.
type State struct {
	entries *orderedmap.OrderedMap[string, any]
}

// NewState creates an empty state store.
func NewState() *State {
	return &State{entries: orderedmap.New[string, any]()}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	return s.entries.Get(key)
}

// Set stores value under key, keeping first-insertion order.
func (s *State) Set(key string, value any) {
	s.entries.Set(key, value)
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.entries.Get(key)
	return ok
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	return s.entries.Len()
}

// Keys returns all keys in insertion order.
func (s *State) Keys() []string {
	keys := make([]string, 0, s.entries.Len())
	for pair := s.entries.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Map returns the state as an insertion-ordered map. The returned map
// marshals to JSON in insertion order.
func (s *State) Map() *orderedmap.OrderedMap[string, any] {
	return s.entries
}

// MarshalJSON serializes the state in insertion order.
func (s *State) MarshalJSON() ([]byte, error) {
	return s.entries.MarshalJSON()
}
