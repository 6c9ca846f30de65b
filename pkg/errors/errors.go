// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling for the Dirigo runtime.
// Every failure that crosses the interpreter boundary is classified with
// an ErrorCode so callers can react without string matching.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Dirigo errors for reporting and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal runtime error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknownDirective indicates a directive with an unrecognized type.
	CodeUnknownDirective ErrorCode = "UNKNOWN_DIRECTIVE"

	// CodeUnknownOperation indicates an operation kind outside the built-in set.
	CodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"

	// CodeMissingArgument indicates a handler was invoked without a required argument.
	CodeMissingArgument ErrorCode = "MISSING_ARGUMENT"

	// CodeNoTransition indicates a state machine has no transition from the current state.
	CodeNoTransition ErrorCode = "NO_TRANSITION"

	// CodeDispatchFailure indicates a handler failed internally.
	CodeDispatchFailure ErrorCode = "DISPATCH_FAILURE"

	// CodeValidation indicates a malformed directive shape.
	CodeValidation ErrorCode = "VALIDATION_FAILURE"

	// CodeQueueOverflow indicates the operation queue rejected a task at capacity.
	CodeQueueOverflow ErrorCode = "QUEUE_OVERFLOW"

	// CodeQueueShutdown indicates the operation queue no longer accepts work.
	CodeQueueShutdown ErrorCode = "QUEUE_SHUTDOWN"

	// CodeTimeout indicates an operation or directive exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeResourceLimit indicates a sandbox resource budget was exhausted.
	CodeResourceLimit ErrorCode = "RESOURCE_LIMIT"
)

// DirigoError is a typed error carrying classification and context.
// It implements the error interface and supports errors.As/errors.Unwrap.
type DirigoError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *DirigoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *DirigoError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *DirigoError) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"code":        string(e.Code),
		"message":     e.Error(),
		"recoverable": e.Recoverable,
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	return json.Marshal(payload)
}

// New creates a DirigoError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *DirigoError {
	return &DirigoError{
		Code:    code,
		Message: msg,
		Err:     cause,
	}
}

// Newf creates a DirigoError with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *DirigoError {
	return &DirigoError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *DirigoError) WithContext(key string, value any) *DirigoError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *DirigoError) WithRecoverable(recoverable bool) *DirigoError {
	e.Recoverable = recoverable
	return e
}

// AsDirigoError converts err to a DirigoError, wrapping unknown errors
// as CodeInternal. Returns nil for a nil error.
func AsDirigoError(err error) *DirigoError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DirigoError); ok {
		return de
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the ErrorCode of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if de, ok := err.(*DirigoError); ok {
		return de.Code
	}
	return CodeInternal
}
