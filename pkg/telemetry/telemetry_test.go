// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("dirigo-test", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("shutdown function should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestInitWithConfigRejectsUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("dirigo-test", "v0.0.1", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInitOTLPRequiresEndpoint(t *testing.T) {
	if _, err := InitWithConfig("dirigo-test", "v0.0.1", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestConfigureSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "debug", "json")
	logger.Debug("hello", "key", "value")
	out := buf.String()
	if !strings.Contains(out, `"msg":"hello"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}

func TestConfigureSlogLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "text")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record leaked past warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("warn record missing")
	}
}

func TestExecutionMetrics(t *testing.T) {
	m, err := NewExecutionMetrics()
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	ctx := context.Background()

	m.RecordDirective(ctx, "orchestration", true, 25*time.Millisecond)
	m.RecordOperation(ctx, "analyzeFiles", false)
	m.RecordCacheHit(ctx, "operations")
	m.RecordQueueDepth(ctx, 3)

	// Nil metrics must not panic.
	var nilMetrics *ExecutionMetrics
	nilMetrics.RecordDirective(ctx, "orchestration", true, 0)
	nilMetrics.RecordOperation(ctx, "loadPrompt", true)
}
