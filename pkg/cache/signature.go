// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Signature derives a stable cache key for an operation invocation from its
// kind and arguments. Argument maps hash identically regardless of key
// ordering. The project path is deliberately excluded: the operation cache is
// scoped per runtime instance, not per project.
func Signature(op string, args map[string]any) string {
	h := xxhash.New()
	_, _ = h.WriteString(op)
	_, _ = h.WriteString("\x00")

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("=")
		_, _ = h.WriteString(canonical(args[k]))
		_, _ = h.WriteString("\x00")
	}
	return op + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// canonical renders an argument value deterministically. JSON encoding sorts
// map keys, which keeps nested maps stable.
func canonical(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(payload)
}
