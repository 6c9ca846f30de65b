// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"encoding/json"
	"sort"

	"github.com/jllopis/dirigo/pkg/directive"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

// summarizeStringLimit caps summarized strings.
const summarizeStringLimit = 280

// composeData reshapes accumulated state into the final data object. Each
// section reads one state key, applies its transform and writes the result
// under the destination key. Sections whose source is absent are dropped.
func composeData(state *sandbox.State, comp *directive.Composition) map[string]any {
	data := make(map[string]any, len(comp.Sections)+2)
	for _, section := range comp.Sections {
		value, ok := state.Get(section.Source)
		if !ok {
			continue
		}
		data[section.Key] = applyTransform(section.Transform, value)
	}
	data["template"] = comp.Template
	if comp.Format != "" {
		data["format"] = comp.Format
	}
	return data
}

// applyTransform applies a named transform to a section value. Transforms
// are data-shaping helpers, not text rendering:
//
//   - summarize reduces a value to a compact digest: long strings are
//     truncated, maps become {keys, size}, slices become {count, sample}.
//   - extract keeps only the scalar entries of a map, dropping nested
//     collections; non-maps pass through.
//   - format re-renders the value as indented JSON text.
//   - filter removes nil entries from maps and slices.
//
// Unknown or empty transform names pass the value through unchanged.
func applyTransform(name string, value any) any {
	switch name {
	case directive.TransformSummarize:
		return summarize(value)
	case directive.TransformExtract:
		return extract(value)
	case directive.TransformFormat:
		return formatJSON(value)
	case directive.TransformFilter:
		return filterNil(value)
	default:
		return value
	}
}

func summarize(value any) any {
	switch v := value.(type) {
	case string:
		if len(v) > summarizeStringLimit {
			return v[:summarizeStringLimit] + "..."
		}
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return map[string]any{"keys": keys, "size": len(v)}
	case []any:
		sample := v
		if len(sample) > 3 {
			sample = sample[:3]
		}
		return map[string]any{"count": len(v), "sample": sample}
	}
	return value
}

func extract(value any) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch v.(type) {
		case map[string]any, []any:
			// nested collections are dropped
		default:
			out[k] = v
		}
	}
	return out
}

func formatJSON(value any) any {
	rendered, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return value
	}
	return string(rendered)
}

func filterNil(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if item != nil {
				out[k] = item
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, item)
			}
		}
		return out
	}
	return value
}
