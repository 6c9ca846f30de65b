// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox provides the per-execution environment a directive runs
// in: the project path, resource limits, and the mutable state store. A
// Context is created fresh for each execution and discarded with it; it is
// never shared across calls.
package sandbox

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/dirigo/pkg/errors"
)

// Limits bounds what a single directive execution may consume. Memory is a
// configuration value surfaced in results, not an enforced ceiling.
type Limits struct {
	Timeout           time.Duration
	MemoryLimitBytes  int64
	FSOperationsLimit int64
	NetworkAllowed    bool
}

// DefaultLimits returns the sandbox defaults. Network stays disabled unless
// a caller enables it explicitly.
func DefaultLimits() Limits {
	return Limits{
		Timeout:           30 * time.Second,
		MemoryLimitBytes:  256 << 20,
		FSOperationsLimit: 1000,
		NetworkAllowed:    false,
	}
}

// Context is the sandbox a directive executes in.
type Context struct {
	ProjectPath string
	WorkingDir  string
	Env         map[string]string
	Limits      Limits
	State       *State
	RunID       string

	fsOps atomic.Int64
}

// NewContext builds an isolated execution context for one directive run.
func NewContext(projectPath string, limits Limits) *Context {
	return &Context{
		ProjectPath: projectPath,
		WorkingDir:  projectPath,
		Env:         make(map[string]string),
		Limits:      limits,
		State:       NewState(),
		RunID:       uuid.NewString(),
	}
}

// ConsumeFSOp charges one file-system operation against the budget. It fails
// once the limit is exhausted so handlers stop touching the tree.
func (c *Context) ConsumeFSOp() error {
	if c.Limits.FSOperationsLimit <= 0 {
		c.fsOps.Add(1)
		return nil
	}
	if c.fsOps.Add(1) > c.Limits.FSOperationsLimit {
		return errors.Newf(errors.CodeResourceLimit,
			"file-system operation limit exceeded (%d)", c.Limits.FSOperationsLimit)
	}
	return nil
}

// FSOpsUsed reports how many file-system operations the execution has made.
func (c *Context) FSOpsUsed() int64 {
	return c.fsOps.Load()
}
