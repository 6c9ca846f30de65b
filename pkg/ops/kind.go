// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/jllopis/dirigo/pkg/errors"
)

// Kind identifies one of the built-in operations. Representing the set as an
// enum keeps dispatch an exhaustive switch instead of a map of closures.
type Kind int

const (
	KindLoadKnowledge Kind = iota
	KindLoadPrompt
	KindAnalyzeFiles
	KindScanEnvironment
	KindGenerateContext
	KindComposeResult
	KindValidateOutput
	KindCacheResult
	KindRetrieveCache
)

var kindNames = map[Kind]string{
	KindLoadKnowledge:   "loadKnowledge",
	KindLoadPrompt:      "loadPrompt",
	KindAnalyzeFiles:    "analyzeFiles",
	KindScanEnvironment: "scanEnvironment",
	KindGenerateContext: "generateContext",
	KindComposeResult:   "composeResult",
	KindValidateOutput:  "validateOutput",
	KindCacheResult:     "cacheResult",
	KindRetrieveCache:   "retrieveCache",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// String returns the wire name of the operation.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name to its Kind. Unknown names are rejected.
func ParseKind(op string) (Kind, error) {
	if k, ok := kindsByName[op]; ok {
		return k, nil
	}
	return 0, errors.Newf(errors.CodeUnknownOperation, "Unknown operation: %s", op)
}

// Kinds returns the wire names of all built-in operations.
func Kinds() []string {
	out := make([]string, 0, len(kindNames))
	for _, name := range kindNames {
		out = append(out, name)
	}
	return out
}
