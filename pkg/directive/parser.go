// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON loads a directive from JSON and validates its shape.
func ParseJSON(data []byte) (*Directive, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var d Directive
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseYAML loads a directive from YAML and validates its shape.
func ParseYAML(data []byte) (*Directive, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var d Directive
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadFile loads a directive from a YAML or JSON file, sniffing the format
// when the extension is ambiguous.
func LoadFile(path string) (*Directive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("directive path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parseAuto(data)
	}
}

func parseAuto(data []byte) (*Directive, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if d, err := ParseJSON(data); err == nil {
			return d, nil
		}
	}
	if d, err := ParseYAML(data); err == nil {
		return d, nil
	}
	if d, err := ParseJSON(data); err == nil {
		return d, nil
	}
	return nil, fmt.Errorf("unsupported directive format")
}
