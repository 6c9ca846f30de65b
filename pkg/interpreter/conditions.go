// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"reflect"
	"strings"

	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

// evalCondition evaluates an operation's gate against the current state.
// Unknown operators never pass; the parser rejects them before execution.
func evalCondition(state *sandbox.State, cond *directive.Condition) bool {
	value, present := state.Get(cond.Key)
	switch cond.Operator {
	case directive.OperatorExists:
		return present
	case directive.OperatorEquals:
		return present && looseEqual(value, cond.Value)
	case directive.OperatorContains:
		return present && contains(value, cond.Value)
	case directive.OperatorTruthy:
		return present && truthy(value)
	default:
		return false
	}
}

// looseEqual compares values with numeric tolerance: JSON decodes numbers as
// float64 while handlers may store native ints.
func looseEqual(a, b any) bool {
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// contains checks membership: substring for strings, element for slices,
// key presence for maps.
func contains(value, needle any) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case []string:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		for _, item := range v {
			if item == s {
				return true
			}
		}
		return false
	case map[string]any:
		s, ok := needle.(string)
		if !ok {
			return false
		}
		_, found := v[s]
		return found
	}
	return false
}

// truthy reports whether a value is non-empty, non-zero and non-false.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	}
	if n, ok := asFloat(value); ok {
		return n != 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}
