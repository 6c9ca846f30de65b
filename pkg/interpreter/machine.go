// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"log/slog"
	"sort"

	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/errors"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

// initialStateName is the implicit pseudostate every machine starts from.
const initialStateName = "initial"

// runMachine drives a state machine directive until the final state is
// reached or a transition fails without a tolerant error policy.
func (e *Executor) runMachine(ctx context.Context, sb *sandbox.Context, sm *directive.StateMachine, meta *sandbox.ResultMetadata) error {
	seedState(sb, sm.InitialState)
	current := initialStateName

	for current != sm.FinalState {
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeTimeout, "state machine cancelled in state "+current, err)
		}

		tr := findTransition(sm.Transitions, current)
		if tr == nil {
			return errors.Newf(errors.CodeNoTransition, "No transition found from state %q", current)
		}

		value, cached, err := e.runTransition(ctx, sb, tr)
		if err != nil {
			switch tr.OnError {
			case directive.OnErrorSkip:
				// The operation completed with a failure; control flow
				// advances but no store key is populated.
				e.logger.Debug("transition failure skipped",
					slog.String("transition", tr.Name),
					slog.String("run_id", sb.RunID),
					slog.String("error", err.Error()))
				meta.OperationsExecuted++
				current = tr.NextState
				continue
			default:
				return errors.Newf(errors.CodeDispatchFailure, "transition %q failed: %v", tr.Name, err)
			}
		}

		if op := tr.Operation.Inline; op != nil && op.Store != "" {
			sb.State.Set(op.Store, value)
			if cached {
				meta.CachedOperations = append(meta.CachedOperations, op.Store)
			}
		}
		meta.OperationsExecuted++
		current = tr.NextState
	}
	return nil
}

// runTransition resolves and executes the transition's operation, retrying
// when the error policy asks for it. The bool reports an operation cache hit.
func (e *Executor) runTransition(ctx context.Context, sb *sandbox.Context, tr *directive.Transition) (any, bool, error) {
	attempts := 1
	if tr.OnError == directive.OnErrorRetry && tr.MaxRetries > 0 {
		attempts += tr.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		op := tr.Operation.Inline
		if op == nil {
			// Named operation references require a resolution collaborator
			// that is not wired in; they fail permanently.
			lastErr = errors.Newf(errors.CodeDispatchFailure,
				"operation reference %q cannot be resolved", tr.Operation.Ref)
			continue
		}
		value, cached, err := e.runOperation(ctx, sb, op)
		if err == nil {
			return value, cached, nil
		}
		lastErr = err
		if attempt+1 < attempts {
			e.logger.Debug("retrying transition",
				slog.String("transition", tr.Name),
				slog.Int("attempt", attempt+1),
				slog.String("run_id", sb.RunID))
		}
	}
	return nil, false, lastErr
}

// seedState copies the initial key-value seed into the state store. Keys are
// sorted so seeding order is deterministic.
func seedState(sb *sandbox.Context, seed map[string]any) {
	keys := make([]string, 0, len(seed))
	for k := range seed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.State.Set(k, seed[k])
	}
}

func findTransition(transitions []directive.Transition, from string) *directive.Transition {
	for i := range transitions {
		if transitions[i].From == from {
			return &transitions[i]
		}
	}
	return nil
}
