// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package interpreter executes directives against the built-in operation
// set inside a sandbox context. All failure modes are reported in the
// execution result; Execute never returns a Go error.
package interpreter

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/dirigo/pkg/audit"
	"github.com/jllopis/dirigo/pkg/cache"
	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/errors"
	"github.com/jllopis/dirigo/pkg/ops"
	"github.com/jllopis/dirigo/pkg/sandbox"
	"github.com/jllopis/dirigo/pkg/telemetry"
)

// Executor runs directives. It is safe for concurrent use: per-call state
// lives in the sandbox context, while the caches behind env are themselves
// concurrency-safe.
type Executor struct {
	env      *ops.Env
	limitsMu sync.RWMutex
	limits   sandbox.Limits
	auditor  audit.Store
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *telemetry.ExecutionMetrics
	dirCache *cache.TTLCache
	dirTTL   time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLimits sets the sandbox limits applied to every execution.
func WithLimits(limits sandbox.Limits) Option {
	return func(e *Executor) { e.limits = limits }
}

// WithAudit records directive and operation events in the given store.
func WithAudit(store audit.Store) Option {
	return func(e *Executor) { e.auditor = store }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics records directive, operation and cache-hit counters on the
// given instruments. All recorders tolerate a nil receiver, so metrics stay
// optional.
func WithMetrics(m *telemetry.ExecutionMetrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithDirectiveCache enables full-directive result caching for
// orchestration directives marked cacheable.
func WithDirectiveCache(c *cache.TTLCache, ttl time.Duration) Option {
	return func(e *Executor) {
		e.dirCache = c
		e.dirTTL = ttl
	}
}

// New creates an executor dispatching through env.
func New(env *ops.Env, opts ...Option) *Executor {
	e := &Executor{
		env:    env,
		limits: sandbox.DefaultLimits(),
		logger: slog.Default(),
		tracer: otel.Tracer("dirigo/interpreter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLimits replaces the sandbox limits for subsequent executions. Runs
// already in flight keep the limits they started with.
func (e *Executor) SetLimits(limits sandbox.Limits) {
	e.limitsMu.Lock()
	e.limits = limits
	e.limitsMu.Unlock()
}

func (e *Executor) currentLimits() sandbox.Limits {
	e.limitsMu.RLock()
	defer e.limitsMu.RUnlock()
	return e.limits
}

// directiveCacheEntry is the value stored by the full-directive cache.
type directiveCacheEntry struct {
	data any
}

// Execute runs a directive against projectPath and returns a uniform
// result. Failures never propagate as errors; they are reported in the
// result with a descriptive message.
func (e *Executor) Execute(ctx context.Context, d *directive.Directive, projectPath string) sandbox.ExecutionResult {
	start := time.Now()
	limits := e.currentLimits()
	sb := sandbox.NewContext(projectPath, limits)
	meta := sandbox.ResultMetadata{
		RunID:            sb.RunID,
		CachedOperations: []string{},
	}
	dirType := "unknown"
	finish := func(result sandbox.ExecutionResult) sandbox.ExecutionResult {
		result.Metadata = meta
		result.Metadata.ExecutionTimeMs = time.Since(start).Milliseconds()
		result.Metadata.PeakMemoryBytes = heapInUse()
		e.metrics.RecordDirective(ctx, dirType, result.Success, time.Since(start))
		return result
	}
	fail := func(err error) sandbox.ExecutionResult {
		e.logger.Error("directive failed",
			slog.String("run_id", sb.RunID),
			slog.String("error", err.Error()))
		return finish(sandbox.ExecutionResult{Success: false, Error: err.Error()})
	}

	if d == nil {
		return fail(errors.Newf(errors.CodeValidation, "directive is nil"))
	}
	if err := d.Validate(); err != nil {
		return fail(err)
	}
	dirType = string(d.Type)

	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "Directive.Execute",
		trace.WithAttributes(
			attribute.String("directive.type", string(d.Type)),
			attribute.String("run.id", sb.RunID),
		),
	)
	defer span.End()

	switch d.Type {
	case directive.TypeOrchestration:
		orch := d.Orchestration
		span.SetAttributes(attribute.String("directive.tool", orch.Tool))

		key, cacheable := e.directiveCacheKey(orch)
		if cacheable {
			if hit, ok := e.dirCache.Get(key); ok {
				entry := hit.(directiveCacheEntry)
				e.metrics.RecordCacheHit(ctx, "directive")
				e.logger.Debug("directive served from cache",
					slog.String("tool", orch.Tool),
					slog.String("run_id", sb.RunID))
				return finish(sandbox.ExecutionResult{Success: true, Data: entry.data})
			}
		}

		data, err := e.runPipeline(ctx, sb, orch, &meta)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fail(err)
		}
		if cacheable {
			e.dirCache.SetWithTTL(key, directiveCacheEntry{data: data}, e.dirTTL)
		}
		e.logger.Info("directive completed",
			slog.String("tool", orch.Tool),
			slog.String("run_id", sb.RunID),
			slog.Int("operations", meta.OperationsExecuted))
		return finish(sandbox.ExecutionResult{Success: true, Data: data})

	case directive.TypeStateMachine:
		if err := e.runMachine(ctx, sb, d.StateMachine, &meta); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fail(err)
		}
		e.logger.Info("state machine completed",
			slog.String("run_id", sb.RunID),
			slog.Int("operations", meta.OperationsExecuted))
		return finish(sandbox.ExecutionResult{Success: true, Data: sb.State.Map()})

	default:
		return fail(errors.Newf(errors.CodeUnknownDirective, "Unknown directive type: %q", d.Type))
	}
}

// directiveCacheKey reports whether the directive participates in the
// full-directive cache and under which key.
func (e *Executor) directiveCacheKey(orch *directive.Orchestration) (string, bool) {
	if e.dirCache == nil || orch.Metadata == nil || !orch.Metadata.Cacheable {
		return "", false
	}
	if orch.Metadata.CacheKey != "" {
		return "directive:" + orch.Metadata.CacheKey, true
	}
	return cache.Signature("directive:"+orch.Tool, map[string]any{
		"version":    orch.Version,
		"operations": orch.Operations,
	}), true
}

// runOperation dispatches one operation, consulting and populating the
// operation cache for cache-eligible kinds. The bool reports a cache hit.
func (e *Executor) runOperation(ctx context.Context, sb *sandbox.Context, op *directive.Operation) (any, bool, error) {
	kind, err := ops.ParseKind(op.Op)
	if err != nil {
		return nil, false, err
	}

	sig := cache.Signature(op.Op, op.Args)
	if kind.Cacheable() && e.env.OpCache != nil {
		if value, ok := e.env.OpCache.Get(sig); ok {
			e.metrics.RecordCacheHit(ctx, "operations")
			e.record(ctx, sb, op, audit.StatusCached, value, nil, time.Now())
			return value, true, nil
		}
	}

	call := e.buildCall(sb, op, kind)
	opCtx, span := e.tracer.Start(ctx, "Directive.Operation",
		trace.WithAttributes(
			attribute.String("op.kind", op.Op),
			attribute.String("op.store", op.Store),
		),
	)
	started := time.Now()
	value, err := e.env.Dispatch(opCtx, sb, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	e.metrics.RecordOperation(ctx, op.Op, err == nil)
	if err != nil {
		e.logger.Warn("operation failed",
			slog.String("op", op.Op),
			slog.String("run_id", sb.RunID),
			slog.String("error", err.Error()))
		e.record(ctx, sb, op, audit.StatusFailed, nil, err, started)
		return nil, false, err
	}

	if kind.Cacheable() && e.env.OpCache != nil {
		e.env.OpCache.Set(sig, value)
	}
	e.record(ctx, sb, op, audit.StatusCompleted, value, nil, started)
	return value, false, nil
}

// buildCall resolves input and inputs keys from the state store.
func (e *Executor) buildCall(sb *sandbox.Context, op *directive.Operation, kind ops.Kind) ops.Call {
	call := ops.Call{
		Kind: kind,
		Args: op.Args,
	}
	if op.Input != "" {
		value, ok := sb.State.Get(op.Input)
		call.Input = value
		call.HasInput = ok
	}
	if len(op.Inputs) > 0 {
		call.Inputs = make(map[string]any, len(op.Inputs))
		call.InputOrder = op.Inputs
		for _, key := range op.Inputs {
			if value, ok := sb.State.Get(key); ok {
				call.Inputs[key] = value
			}
		}
	}
	return call
}

func (e *Executor) record(ctx context.Context, sb *sandbox.Context, op *directive.Operation, status string, output any, opErr error, started time.Time) {
	if e.auditor == nil {
		return
	}
	event := audit.Event{
		RunID:      sb.RunID,
		OpKind:     op.Op,
		StoreKey:   op.Store,
		Status:     status,
		Output:     output,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	if err := e.auditor.Record(ctx, event); err != nil {
		e.logger.Warn("audit record failed", slog.String("error", err.Error()))
	}
}

// heapInUse is a best-effort reading, not an enforced limit.
func heapInUse() int64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return int64(stats.HeapInuse)
}
