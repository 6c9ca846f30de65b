// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package ops

// stringArg reads a string argument, returning "" when absent or mistyped.
func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// numberArg reads a numeric argument. JSON decodes numbers as float64; YAML
// may produce int.
func numberArg(args map[string]any, key string, fallback float64) float64 {
	if args == nil {
		return fallback
	}
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// stringsArg reads a list-of-strings argument, tolerating []any payloads
// from JSON/YAML decoding.
func stringsArg(args map[string]any, key string) []string {
	if args == nil {
		return nil
	}
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
