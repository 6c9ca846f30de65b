// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func TestMemoryStoreFilters(t *testing.T) {
	store := NewMemoryStore()
	events := []Event{
		{RunID: "run-1", Tool: "analyze", OpKind: "analyzeFiles", Status: StatusCompleted},
		{RunID: "run-1", Tool: "analyze", OpKind: "composeResult", Status: StatusFailed, Error: "boom"},
		{RunID: "run-2", Tool: "review", OpKind: "loadPrompt", Status: StatusCompleted},
	}
	for _, ev := range events {
		if err := store.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.List(context.Background(), Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events for run-1, got %d", len(got))
	}

	got, err = store.List(context.Background(), Filter{Status: StatusFailed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Error != "boom" {
		t.Fatalf("unexpected failed events %#v", got)
	}

	got, err = store.List(context.Background(), Filter{Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].RunID != "run-1" {
		t.Fatalf("limit not applied: %#v", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", "file:audit_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	event := Event{
		RunID:     "run-1",
		Tool:      "analyze",
		OpKind:    "analyzeFiles",
		StoreKey:  "files",
		Status:    StatusCompleted,
		Output:    map[string]any{"totalFiles": 3},
		StartedAt: time.Now().UTC(),
	}
	if err := store.Record(context.Background(), event); err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := store.List(context.Background(), Filter{RunID: "run-1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Tool != "analyze" || events[0].StoreKey != "files" {
		t.Fatalf("unexpected event %#v", events[0])
	}
	output, ok := events[0].Output.(map[string]any)
	if !ok || output["totalFiles"] != float64(3) {
		t.Fatalf("output did not round-trip: %#v", events[0].Output)
	}
}

func TestSQLiteStoreRejectsNilDB(t *testing.T) {
	if _, err := NewSQLiteStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}
