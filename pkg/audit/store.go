// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records directive and operation execution events for later
// inspection. A store implementation may keep events in memory or persist
// them in SQLite.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCached    = "cached"
)

// Event is one recorded step of a directive execution. Tool identifies the
// directive; OpKind and StoreKey identify the operation within it. A
// directive-level event leaves OpKind empty.
type Event struct {
	RunID      string
	Tool       string
	OpKind     string
	StoreKey   string
	Status     string
	Output     any
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Filter limits event queries.
type Filter struct {
	RunID  string
	Tool   string
	OpKind string
	Status string
	Limit  int
}

// Store persists execution events.
type Store interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryStore returns an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an event.
func (s *MemoryStore) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered events in recording order.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.events))
	for _, ev := range s.events {
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.Tool != "" && ev.Tool != filter.Tool {
			continue
		}
		if filter.OpKind != "" && ev.OpKind != filter.OpKind {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// encodeOutput marshals the output payload into JSON.
func encodeOutput(output any) ([]byte, error) {
	if output == nil {
		return []byte("null"), nil
	}
	return json.Marshal(output)
}

// decodeOutput parses a JSON output payload.
func decodeOutput(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime ensures timestamps are stored in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
