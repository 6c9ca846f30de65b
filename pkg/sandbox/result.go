// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// ExecutionResult is the uniform outcome of a directive execution. The
// interpreter never returns a Go error across its public boundary; every
// failure is reported here.
type ExecutionResult struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

// ResultMetadata carries execution bookkeeping.
type ResultMetadata struct {
	// ExecutionTimeMs is the wall-clock duration of the execution.
	ExecutionTimeMs int64 `json:"executionTimeMs"`

	// OperationsExecuted counts operations that completed, success or not,
	// before the execution terminated. Skipped operations do not count.
	OperationsExecuted int `json:"operationsExecuted"`

	// CachedOperations lists the store keys that were served from cache.
	CachedOperations []string `json:"cachedOperations"`

	// PeakMemoryBytes is a best-effort heap reading, not an enforced limit.
	PeakMemoryBytes int64 `json:"peakMemory,omitempty"`

	// RunID identifies this execution in logs and the audit trail.
	RunID string `json:"runId,omitempty"`
}
