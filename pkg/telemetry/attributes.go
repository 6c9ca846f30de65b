// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

// Semantic conventions for dirigo telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Directive attributes
	AttrDirectiveType    = "dirigo.directive.type"
	AttrDirectiveTool    = "dirigo.directive.tool"
	AttrDirectiveSuccess = "dirigo.directive.success"
	AttrRunID            = "dirigo.run.id"

	// Operation attributes
	AttrOperationKind    = "dirigo.operation.kind"
	AttrOperationStore   = "dirigo.operation.store"
	AttrOperationSuccess = "dirigo.operation.success"
	AttrOperationCached  = "dirigo.operation.cached"

	// Cache attributes
	AttrCacheName = "dirigo.cache.name"

	// Queue attributes
	AttrQueuePriority = "dirigo.queue.priority"
	AttrQueueDepth    = "dirigo.queue.depth"
)
