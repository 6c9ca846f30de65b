// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog provides the knowledge/prompt collaborator consumed by the
// loadKnowledge and loadPrompt operations. Entries are described by an index
// file and backed by markdown documents with optional YAML frontmatter.
package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no catalog entry matched the request.
var ErrNotFound = errors.New("catalog: not found")

// Entry describes one catalog item as listed in the index.
type Entry struct {
	File         string   `yaml:"file" json:"file"`
	Tokens       int      `yaml:"tokens" json:"tokens"`
	Category     string   `yaml:"category" json:"category"`
	Sections     []string `yaml:"sections" json:"sections"`
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	LoadOnDemand bool     `yaml:"loadOnDemand" json:"loadOnDemand"`
}

// Knowledge is the summary returned for a knowledge domain.
type Knowledge struct {
	Domain   string   `json:"domain"`
	Scope    string   `json:"scope,omitempty"`
	Category string   `json:"category,omitempty"`
	Tokens   int      `json:"tokens,omitempty"`
	Sections []string `json:"sections,omitempty"`
	Summary  string   `json:"summary,omitempty"`
}

// Prompt is a named prompt template.
type Prompt struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Tokens   int    `json:"tokens,omitempty"`
	Template string `json:"template"`
}

// Catalog resolves knowledge domains and prompt templates.
type Catalog interface {
	Knowledge(domain, scope string) (Knowledge, error)
	Prompt(name string) (Prompt, error)
}

// Static is an in-memory catalog, useful for tests and embedding.
type Static struct {
	KnowledgeEntries map[string]Knowledge
	PromptEntries    map[string]Prompt
}

// Knowledge returns the static entry for domain, narrowed to scope.
func (s *Static) Knowledge(domain, scope string) (Knowledge, error) {
	k, ok := s.KnowledgeEntries[domain]
	if !ok {
		return Knowledge{}, fmt.Errorf("%w: knowledge domain %q", ErrNotFound, domain)
	}
	k.Domain = domain
	k.Scope = scope
	return k, nil
}

// Prompt returns the static prompt for name.
func (s *Static) Prompt(name string) (Prompt, error) {
	p, ok := s.PromptEntries[name]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: prompt %q", ErrNotFound, name)
	}
	p.Name = name
	return p, nil
}
