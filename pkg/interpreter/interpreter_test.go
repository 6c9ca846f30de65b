// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"strings"
	"testing"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/jllopis/dirigo/pkg/audit"
	"github.com/jllopis/dirigo/pkg/cache"
	"github.com/jllopis/dirigo/pkg/catalog"
	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/ops"
	"github.com/jllopis/dirigo/pkg/sandbox"
	"github.com/jllopis/dirigo/pkg/telemetry"
)

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, *audit.MemoryStore) {
	t.Helper()
	env := &ops.Env{
		Catalog: &catalog.Static{
			KnowledgeEntries: map[string]catalog.Knowledge{
				"frontend": {Domain: "frontend", Summary: "component patterns"},
			},
			PromptEntries: map[string]catalog.Prompt{
				"review": {Name: "review", Template: "Review {{.target}}."},
			},
		},
		OpCache:        cache.NewTTL(time.Minute),
		PromptCache:    cache.NewTTL(time.Minute),
		PromptCacheTTL: time.Minute,
	}
	store := audit.NewMemoryStore()
	opts = append([]Option{WithAudit(store)}, opts...)
	return New(env, opts...), store
}

func orch(operations []directive.Operation) *directive.Directive {
	return &directive.Directive{
		Type: directive.TypeOrchestration,
		Orchestration: &directive.Orchestration{
			Version:    "1.0",
			Tool:       "test-tool",
			Operations: operations,
		},
	}
}

func stateData(t *testing.T, result sandbox.ExecutionResult) *orderedmap.OrderedMap[string, any] {
	t.Helper()
	data, ok := result.Data.(*orderedmap.OrderedMap[string, any])
	if !ok {
		t.Fatalf("expected state data, got %T", result.Data)
	}
	return data
}

func TestPipelineStoresResults(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "knowledge"},
		{Op: "scanEnvironment", Store: "env"},
	}), t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.Metadata.OperationsExecuted != 2 {
		t.Fatalf("expected 2 executed, got %d", result.Metadata.OperationsExecuted)
	}
	data := stateData(t, result)
	if _, ok := data.Get("knowledge"); !ok {
		t.Fatal("knowledge not stored")
	}
	if _, ok := data.Get("env"); !ok {
		t.Fatal("env not stored")
	}
	if result.Metadata.RunID == "" {
		t.Fatal("missing run id")
	}
}

func TestReturnHaltsPipeline(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "a", Return: true},
		{Op: "scanEnvironment", Store: "b"},
	}), t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.Metadata.OperationsExecuted != 1 {
		t.Fatalf("expected 1 executed, got %d", result.Metadata.OperationsExecuted)
	}
	data := stateData(t, result)
	if _, ok := data.Get("a"); !ok {
		t.Fatal("a not stored")
	}
	if _, ok := data.Get("b"); ok {
		t.Fatal("b must never be produced after return")
	}
}

func TestConditionOnMissingKeySkips(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{
			Op:        "scanEnvironment",
			Store:     "env",
			Condition: &directive.Condition{Key: "missing", Operator: directive.OperatorExists},
		},
	}), t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.Metadata.OperationsExecuted != 0 {
		t.Fatalf("skipped operation counted as executed: %d", result.Metadata.OperationsExecuted)
	}
	if _, ok := stateData(t, result).Get("env"); ok {
		t.Fatal("skipped operation mutated state")
	}
}

func TestConditionOperators(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{Op: "cacheResult", Args: map[string]any{"key": "seed"}, Store: "marker"},
		{
			Op:        "scanEnvironment",
			Store:     "gated",
			Condition: &directive.Condition{Key: "marker", Operator: directive.OperatorTruthy},
		},
	}), t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.Metadata.OperationsExecuted != 2 {
		t.Fatalf("truthy condition on stored result must pass, executed=%d", result.Metadata.OperationsExecuted)
	}
}

func TestFailureAbortsPipeline(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "a"},
		{Op: "loadPrompt", Store: "b"},
		{Op: "scanEnvironment", Store: "c"},
	}), t.TempDir())

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, `requires "name" argument`) {
		t.Fatalf("unexpected error %q", result.Error)
	}
	if result.Metadata.OperationsExecuted != 1 {
		t.Fatalf("failing operation must not count, executed=%d", result.Metadata.OperationsExecuted)
	}
}

func TestUnknownOperationFails(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), orch([]directive.Operation{
		{Op: "doesNotExist"},
	}), t.TempDir())

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "Unknown operation") {
		t.Fatalf("unexpected error %q", result.Error)
	}
}

func TestUnknownDirectiveType(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), &directive.Directive{Type: "bogus"}, t.TempDir())

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "Unknown directive type") {
		t.Fatalf("unexpected error %q", result.Error)
	}
}

func TestComposition(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "knowledge"},
		{Op: "composeResult", Args: map[string]any{"template": "report"}, Store: "summary"},
	})
	d.Orchestration.Compose = &directive.Composition{
		Template: "analysis-report",
		Format:   "markdown",
		Sections: []directive.Section{
			{Source: "summary", Key: "overview"},
			{Source: "absent", Key: "never"},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	data, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected composed map, got %T", result.Data)
	}
	if data["template"] != "analysis-report" || data["format"] != "markdown" {
		t.Fatalf("composition metadata missing: %#v", data)
	}
	if _, ok := data["overview"]; !ok {
		t.Fatal("overview section missing")
	}
	if _, ok := data["never"]; ok {
		t.Fatal("absent source must be dropped")
	}
}

func TestOperationCacheHitRecorded(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "knowledge"},
	})

	first := exec.Execute(context.Background(), d, t.TempDir())
	if !first.Success {
		t.Fatalf("first run failed: %s", first.Error)
	}
	if len(first.Metadata.CachedOperations) != 0 {
		t.Fatalf("first run must not hit the cache: %v", first.Metadata.CachedOperations)
	}

	second := exec.Execute(context.Background(), d, t.TempDir())
	if !second.Success {
		t.Fatalf("second run failed: %s", second.Error)
	}
	if len(second.Metadata.CachedOperations) != 1 || second.Metadata.CachedOperations[0] != "knowledge" {
		t.Fatalf("expected knowledge served from cache, got %v", second.Metadata.CachedOperations)
	}
}

func TestStateMachineCacheHitRecorded(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name: "gather",
					From: "initial",
					Operation: directive.OperationRef{Inline: &directive.Operation{
						Op:    "loadKnowledge",
						Args:  map[string]any{"domain": "frontend"},
						Store: "knowledge",
					}},
					NextState: "done",
				},
			},
		},
	}

	first := exec.Execute(context.Background(), d, t.TempDir())
	if !first.Success {
		t.Fatalf("first run failed: %s", first.Error)
	}
	if len(first.Metadata.CachedOperations) != 0 {
		t.Fatalf("first run must not hit the cache: %v", first.Metadata.CachedOperations)
	}

	second := exec.Execute(context.Background(), d, t.TempDir())
	if !second.Success {
		t.Fatalf("second run failed: %s", second.Error)
	}
	if len(second.Metadata.CachedOperations) != 1 || second.Metadata.CachedOperations[0] != "knowledge" {
		t.Fatalf("expected knowledge served from cache, got %v", second.Metadata.CachedOperations)
	}
	if second.Metadata.OperationsExecuted != 1 {
		t.Fatalf("cached transition still counts as executed, got %d", second.Metadata.OperationsExecuted)
	}
}

func TestMetricsRecordingIsTransparent(t *testing.T) {
	metrics, err := telemetry.NewExecutionMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	exec, _ := newTestExecutor(t, WithMetrics(metrics))
	d := orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "knowledge"},
	})

	first := exec.Execute(context.Background(), d, t.TempDir())
	if !first.Success {
		t.Fatalf("first run failed: %s", first.Error)
	}
	second := exec.Execute(context.Background(), d, t.TempDir())
	if !second.Success {
		t.Fatalf("cache-hit run failed: %s", second.Error)
	}
	if len(second.Metadata.CachedOperations) != 1 {
		t.Fatalf("expected a cache hit, got %v", second.Metadata.CachedOperations)
	}
}

func TestDirectiveCache(t *testing.T) {
	exec, store := newTestExecutor(t, WithDirectiveCache(cache.NewTTL(time.Minute), time.Minute))
	d := orch([]directive.Operation{
		{Op: "loadKnowledge", Args: map[string]any{"domain": "frontend"}, Store: "knowledge"},
	})
	d.Orchestration.Metadata = &directive.Metadata{Cacheable: true, CacheKey: "frontend-analysis"}

	first := exec.Execute(context.Background(), d, t.TempDir())
	if !first.Success {
		t.Fatalf("first run failed: %s", first.Error)
	}
	events, _ := store.List(context.Background(), audit.Filter{})
	recorded := len(events)

	second := exec.Execute(context.Background(), d, t.TempDir())
	if !second.Success {
		t.Fatalf("second run failed: %s", second.Error)
	}
	if second.Metadata.OperationsExecuted != 0 {
		t.Fatalf("cached directive must not re-execute, executed=%d", second.Metadata.OperationsExecuted)
	}
	events, _ = store.List(context.Background(), audit.Filter{})
	if len(events) != recorded {
		t.Fatal("cached directive dispatched operations")
	}
}

func TestStateMachineSingleTransition(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name: "analyze",
					From: "initial",
					Operation: directive.OperationRef{Inline: &directive.Operation{
						Op:    "scanEnvironment",
						Store: "env",
					}},
					NextState: "done",
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	if result.Metadata.OperationsExecuted != 1 {
		t.Fatalf("expected 1 executed, got %d", result.Metadata.OperationsExecuted)
	}
	if _, ok := stateData(t, result).Get("env"); !ok {
		t.Fatal("env not stored")
	}
}

func TestStateMachineSeedsInitialState(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:      "1.0",
			InitialState: map[string]any{"target": "src/"},
			FinalState:   "done",
			Transitions: []directive.Transition{
				{
					Name: "validate",
					From: "initial",
					Operation: directive.OperationRef{Inline: &directive.Operation{
						Op:    "validateOutput",
						Input: "target",
						Store: "check",
					}},
					NextState: "done",
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Error)
	}
	check, ok := stateData(t, result).Get("check")
	if !ok {
		t.Fatal("check not stored")
	}
	if valid := check.(map[string]any)["valid"]; valid != true {
		t.Fatalf("seeded input not visible to operation: %v", valid)
	}
}

func TestStateMachineNoTransition(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name:      "step",
					From:      "elsewhere",
					Operation: directive.OperationRef{Inline: &directive.Operation{Op: "scanEnvironment"}},
					NextState: "done",
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "No transition found") || !strings.Contains(result.Error, "initial") {
		t.Fatalf("unexpected error %q", result.Error)
	}
}

func TestStateMachineAbortOnError(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name:      "fail",
					From:      "initial",
					Operation: directive.OperationRef{Inline: &directive.Operation{Op: "loadPrompt"}},
					NextState: "done",
					OnError:   directive.OnErrorAbort,
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "fail") {
		t.Fatalf("error must name the transition: %q", result.Error)
	}
}

func TestStateMachineSkipOnError(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name:      "flaky",
					From:      "initial",
					Operation: directive.OperationRef{Inline: &directive.Operation{Op: "loadPrompt", Store: "prompt"}},
					NextState: "checked",
					OnError:   directive.OnErrorSkip,
				},
				{
					Name:      "finish",
					From:      "checked",
					Operation: directive.OperationRef{Inline: &directive.Operation{Op: "scanEnvironment", Store: "env"}},
					NextState: "done",
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if !result.Success {
		t.Fatalf("skip must tolerate the failure: %s", result.Error)
	}
	data := stateData(t, result)
	if _, ok := data.Get("prompt"); ok {
		t.Fatal("skipped operation must not populate its store key")
	}
	if _, ok := data.Get("env"); !ok {
		t.Fatal("machine did not advance past the skipped transition")
	}
}

func TestStateMachineRetryExhaustion(t *testing.T) {
	exec, store := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name:       "stubborn",
					From:       "initial",
					Operation:  directive.OperationRef{Inline: &directive.Operation{Op: "loadPrompt"}},
					NextState:  "done",
					OnError:    directive.OnErrorRetry,
					MaxRetries: 2,
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if result.Success {
		t.Fatal("expected exhausted failure")
	}
	events, _ := store.List(context.Background(), audit.Filter{Status: audit.StatusFailed})
	if len(events) != 3 {
		t.Fatalf("expected 1 attempt + 2 retries, got %d failed events", len(events))
	}
}

func TestStateMachineStringReferenceFails(t *testing.T) {
	exec, _ := newTestExecutor(t)
	d := &directive.Directive{
		Type: directive.TypeStateMachine,
		StateMachine: &directive.StateMachine{
			Version:    "1.0",
			FinalState: "done",
			Transitions: []directive.Transition{
				{
					Name:      "ref",
					From:      "initial",
					Operation: directive.OperationRef{Ref: "namedOperation"},
					NextState: "done",
				},
			},
		},
	}
	result := exec.Execute(context.Background(), d, t.TempDir())

	if result.Success {
		t.Fatal("string references must fail")
	}
	if !strings.Contains(result.Error, "namedOperation") {
		t.Fatalf("error must name the reference: %q", result.Error)
	}
}

func TestCancelledContext(t *testing.T) {
	exec, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Execute(ctx, orch([]directive.Operation{
		{Op: "scanEnvironment", Store: "env"},
	}), t.TempDir())

	if result.Success {
		t.Fatal("expected cancellation failure")
	}
	if result.Metadata.OperationsExecuted != 0 {
		t.Fatalf("no operation may run after cancellation, executed=%d", result.Metadata.OperationsExecuted)
	}
}

func TestNilDirective(t *testing.T) {
	exec, _ := newTestExecutor(t)
	result := exec.Execute(context.Background(), nil, t.TempDir())
	if result.Success {
		t.Fatal("expected failure")
	}
}
