// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"log/slog"

	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/errors"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

// runPipeline executes an orchestration's operations strictly in order and
// returns the final data object.
func (e *Executor) runPipeline(ctx context.Context, sb *sandbox.Context, orch *directive.Orchestration, meta *sandbox.ResultMetadata) (any, error) {
	for i := range orch.Operations {
		op := &orch.Operations[i]

		if op.Condition != nil && !evalCondition(sb.State, op.Condition) {
			// A failed condition skips the operation entirely: no store
			// mutation and no executed count.
			e.logger.Debug("operation skipped",
				slog.String("op", op.Op),
				slog.String("condition_key", op.Condition.Key),
				slog.String("run_id", sb.RunID))
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeTimeout, "directive execution cancelled", err)
		}

		value, cached, err := e.runOperation(ctx, sb, op)
		if err != nil {
			// The failing operation is not counted as completed.
			return nil, err
		}
		if op.Store != "" {
			sb.State.Set(op.Store, value)
			if cached {
				meta.CachedOperations = append(meta.CachedOperations, op.Store)
			}
		}
		meta.OperationsExecuted++

		if op.Return {
			break
		}
	}

	if orch.Compose != nil {
		return composeData(sb.State, orch.Compose), nil
	}
	return sb.State.Map(), nil
}
