// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package ops implements the nine built-in operations the interpreter
// dispatches to. Handlers are deterministic given identical inputs and
// project contents; the only concurrency they use is the shared operation
// queue for bounded parallel sub-work.
package ops

import (
	"context"
	"time"

	"github.com/jllopis/dirigo/pkg/cache"
	"github.com/jllopis/dirigo/pkg/catalog"
	"github.com/jllopis/dirigo/pkg/errors"
	"github.com/jllopis/dirigo/pkg/opqueue"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

// Env bundles the collaborators handlers need. One Env serves a whole
// runtime instance; per-call state travels in the sandbox context.
type Env struct {
	Catalog        catalog.Catalog
	OpCache        *cache.TTLCache
	PromptCache    *cache.TTLCache
	Queue          *opqueue.Queue
	PromptCacheTTL time.Duration
}

// Call is one resolved operation invocation. The interpreter pulls Input and
// Inputs out of the state store before dispatch.
type Call struct {
	Kind     Kind
	Args     map[string]any
	Input    any
	HasInput bool
	Inputs   map[string]any
	// InputOrder preserves the directive's inputs ordering for handlers
	// that merge multiple entries.
	InputOrder []string
}

// Dispatch routes a call to its handler. The switch is exhaustive over Kind;
// unknown kinds cannot reach it because ParseKind rejects them.
func (e *Env) Dispatch(ctx context.Context, sb *sandbox.Context, call Call) (any, error) {
	switch call.Kind {
	case KindLoadKnowledge:
		return e.loadKnowledge(call)
	case KindLoadPrompt:
		return e.loadPrompt(call)
	case KindAnalyzeFiles:
		return e.analyzeFiles(ctx, sb, call)
	case KindScanEnvironment:
		return e.scanEnvironment(sb)
	case KindGenerateContext:
		return e.generateContext(call)
	case KindComposeResult:
		return e.composeResult(sb, call)
	case KindValidateOutput:
		return e.validateOutput(call)
	case KindCacheResult:
		return e.cacheResult(call)
	case KindRetrieveCache:
		return e.retrieveCache(call)
	default:
		return nil, errors.Newf(errors.CodeUnknownOperation, "Unknown operation: %s", call.Kind)
	}
}

// Cacheable reports whether results of this kind may be stored in the
// operation cache implicitly. Explicit cache ops manage the cache
// themselves, and composeResult/validateOutput depend on execution state
// rather than (op, args) alone.
func (k Kind) Cacheable() bool {
	switch k {
	case KindLoadKnowledge, KindLoadPrompt, KindAnalyzeFiles, KindScanEnvironment:
		return true
	default:
		return false
	}
}

// loadKnowledge returns a knowledge summary tagged with domain and scope.
// The catalog is a collaborator; a miss degrades to a bare tag object
// rather than failing the operation.
func (e *Env) loadKnowledge(call Call) (any, error) {
	domain := stringArg(call.Args, "domain")
	scope := stringArg(call.Args, "scope")
	if e.Catalog != nil {
		if k, err := e.Catalog.Knowledge(domain, scope); err == nil {
			return k, nil
		}
	}
	return catalog.Knowledge{Domain: domain, Scope: scope}, nil
}

// loadPrompt loads a named prompt template through the prompt cache.
func (e *Env) loadPrompt(call Call) (any, error) {
	name := stringArg(call.Args, "name")
	if name == "" {
		return nil, errors.Newf(errors.CodeMissingArgument, `loadPrompt requires "name" argument`)
	}
	if e.PromptCache != nil {
		if cached, ok := e.PromptCache.Get(name); ok {
			return cached, nil
		}
	}
	if e.Catalog == nil {
		return nil, errors.Newf(errors.CodeDispatchFailure, "loadPrompt: no catalog configured")
	}
	prompt, err := e.Catalog.Prompt(name)
	if err != nil {
		return nil, errors.New(errors.CodeDispatchFailure, "loadPrompt failed", err)
	}
	if e.PromptCache != nil {
		e.PromptCache.SetWithTTL(name, prompt, e.PromptCacheTTL)
	}
	return prompt, nil
}

// generateContext merges the referenced state entries into one context
// object.
func (e *Env) generateContext(call Call) (any, error) {
	ctxType := stringArg(call.Args, "type")
	merged := make(map[string]any, len(call.Inputs))
	for _, key := range call.InputOrder {
		if value, ok := call.Inputs[key]; ok {
			merged[key] = value
		}
	}
	return map[string]any{
		"type":       ctxType,
		"inputCount": len(merged),
		"sources":    call.InputOrder,
		"context":    merged,
	}, nil
}

// composeResult summarizes the accumulated state.
func (e *Env) composeResult(sb *sandbox.Context, call Call) (any, error) {
	return map[string]any{
		"template": stringArg(call.Args, "template"),
		"format":   stringArg(call.Args, "format"),
		"keys":     sb.State.Keys(),
		"size":     sb.State.Len(),
	}, nil
}

// validateOutput checks that the resolved input is present.
func (e *Env) validateOutput(call Call) (any, error) {
	return map[string]any{"valid": call.Input != nil}, nil
}

// cacheResult stores the resolved input in the operation cache.
func (e *Env) cacheResult(call Call) (any, error) {
	key := stringArg(call.Args, "key")
	if key == "" {
		return nil, errors.Newf(errors.CodeMissingArgument, `cacheResult requires "key" argument`)
	}
	ttl := time.Duration(numberArg(call.Args, "ttl", 0) * float64(time.Second))
	if e.OpCache != nil {
		e.OpCache.SetWithTTL(cacheKey(key), call.Input, ttl)
	}
	return map[string]any{"cached": true, "key": key}, nil
}

// retrieveCache returns the cached value for a key, or nil when absent or
// expired.
func (e *Env) retrieveCache(call Call) (any, error) {
	key := stringArg(call.Args, "key")
	if key == "" {
		return nil, errors.Newf(errors.CodeMissingArgument, `retrieveCache requires "key" argument`)
	}
	if e.OpCache == nil {
		return nil, nil
	}
	value, ok := e.OpCache.Get(cacheKey(key))
	if !ok {
		return nil, nil
	}
	return value, nil
}

// cacheKey namespaces explicit user keys away from derived operation
// signatures sharing the same cache.
func cacheKey(key string) string {
	return "user:" + key
}
