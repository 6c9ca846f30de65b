// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExecutionMetrics tracks directive and operation throughput for production
// monitoring.
type ExecutionMetrics struct {
	directiveCounter  metric.Int64Counter
	operationCounter  metric.Int64Counter
	cacheHitCounter   metric.Int64Counter
	durationHistogram metric.Float64Histogram
	queueDepthGauge   metric.Int64Gauge
}

// NewExecutionMetrics creates the runtime's metric instruments.
func NewExecutionMetrics() (*ExecutionMetrics, error) {
	meter := otel.Meter("dirigo/runtime")

	directiveCounter, err := meter.Int64Counter(
		"dirigo.directives.total",
		metric.WithDescription("Directives executed, by type and outcome"),
	)
	if err != nil {
		return nil, err
	}

	operationCounter, err := meter.Int64Counter(
		"dirigo.operations.total",
		metric.WithDescription("Operations dispatched, by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitCounter, err := meter.Int64Counter(
		"dirigo.cache.hits",
		metric.WithDescription("Cache hits, by cache name"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"dirigo.directives.duration_ms",
		metric.WithDescription("Directive execution time in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	queueDepthGauge, err := meter.Int64Gauge(
		"dirigo.queue.depth",
		metric.WithDescription("Current operation queue length"),
	)
	if err != nil {
		return nil, err
	}

	return &ExecutionMetrics{
		directiveCounter:  directiveCounter,
		operationCounter:  operationCounter,
		cacheHitCounter:   cacheHitCounter,
		durationHistogram: durationHistogram,
		queueDepthGauge:   queueDepthGauge,
	}, nil
}

// RecordDirective counts one finished directive execution.
func (m *ExecutionMetrics) RecordDirective(ctx context.Context, directiveType string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrDirectiveType, directiveType),
		attribute.Bool(AttrDirectiveSuccess, success),
	)
	m.directiveCounter.Add(ctx, 1, attrs)
	m.durationHistogram.Record(ctx, float64(took.Milliseconds()), attrs)
}

// RecordOperation counts one dispatched operation.
func (m *ExecutionMetrics) RecordOperation(ctx context.Context, kind string, success bool) {
	if m == nil {
		return
	}
	m.operationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrOperationKind, kind),
			attribute.Bool(AttrOperationSuccess, success),
		),
	)
}

// RecordCacheHit counts a hit on the named cache.
func (m *ExecutionMetrics) RecordCacheHit(ctx context.Context, cacheName string) {
	if m == nil {
		return
	}
	m.cacheHitCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String(AttrCacheName, cacheName)),
	)
}

// RecordQueueDepth records the current queue length.
func (m *ExecutionMetrics) RecordQueueDepth(ctx context.Context, depth int64) {
	if m == nil {
		return
	}
	m.queueDepthGauge.Record(ctx, depth)
}
