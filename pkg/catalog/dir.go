// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// indexFile is the catalog manifest expected at the root of a catalog dir.
const indexFile = "catalog.yaml"

type index struct {
	Knowledge map[string]Entry `yaml:"knowledge"`
	Prompts   map[string]Entry `yaml:"prompts"`
}

// DirCatalog serves knowledge and prompts from a directory tree described by
// a catalog.yaml index. Documents marked loadOnDemand are read lazily on
// first access; everything else is read up front.
type DirCatalog struct {
	root  string
	index index

	mu     sync.Mutex
	bodies map[string]string
}

// LoadDir reads the catalog index from root and preloads eager entries.
func LoadDir(root string) (*DirCatalog, error) {
	data, err := os.ReadFile(filepath.Join(root, indexFile))
	if err != nil {
		return nil, fmt.Errorf("read catalog index: %w", err)
	}
	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse catalog index: %w", err)
	}

	c := &DirCatalog{
		root:   root,
		index:  idx,
		bodies: make(map[string]string),
	}
	for name, entry := range idx.Knowledge {
		if entry.LoadOnDemand {
			continue
		}
		if _, err := c.body(entry); err != nil {
			return nil, fmt.Errorf("preload knowledge %q: %w", name, err)
		}
	}
	for name, entry := range idx.Prompts {
		if entry.LoadOnDemand {
			continue
		}
		if _, err := c.body(entry); err != nil {
			return nil, fmt.Errorf("preload prompt %q: %w", name, err)
		}
	}
	return c, nil
}

// Knowledge implements Catalog.
func (c *DirCatalog) Knowledge(domain, scope string) (Knowledge, error) {
	entry, ok := c.index.Knowledge[domain]
	if !ok {
		return Knowledge{}, fmt.Errorf("%w: knowledge domain %q", ErrNotFound, domain)
	}
	body, err := c.body(entry)
	if err != nil {
		return Knowledge{}, err
	}
	return Knowledge{
		Domain:   domain,
		Scope:    scope,
		Category: entry.Category,
		Tokens:   entry.Tokens,
		Sections: entry.Sections,
		Summary:  summarizeBody(body, scope, entry.Sections),
	}, nil
}

// Prompt implements Catalog.
func (c *DirCatalog) Prompt(name string) (Prompt, error) {
	entry, ok := c.index.Prompts[name]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: prompt %q", ErrNotFound, name)
	}
	body, err := c.body(entry)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		Name:     name,
		Category: entry.Category,
		Tokens:   entry.Tokens,
		Template: body,
	}, nil
}

// body returns the document for entry, stripped of frontmatter, reading and
// memoizing it on first use.
func (c *DirCatalog) body(entry Entry) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.bodies[entry.File]; ok {
		return cached, nil
	}
	data, err := os.ReadFile(filepath.Join(c.root, entry.File))
	if err != nil {
		return "", fmt.Errorf("read catalog document: %w", err)
	}
	body := stripFrontmatter(string(data))
	c.bodies[entry.File] = body
	return body, nil
}

// stripFrontmatter drops a leading YAML frontmatter block if present.
func stripFrontmatter(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return trimmed
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return trimmed
	}
	return strings.TrimSpace(parts[2])
}

// summarizeBody returns the part of the document relevant to scope, or the
// leading section when no scope matches.
func summarizeBody(body, scope string, sections []string) string {
	if scope != "" {
		lower := strings.ToLower(scope)
		for _, section := range sections {
			if strings.ToLower(section) != lower {
				continue
			}
			if excerpt := sectionExcerpt(body, section); excerpt != "" {
				return excerpt
			}
		}
	}
	// First paragraph as the default summary.
	if idx := strings.Index(body, "\n\n"); idx > 0 {
		return strings.TrimSpace(body[:idx])
	}
	return body
}

// sectionExcerpt extracts a markdown section by heading.
func sectionExcerpt(body, heading string) string {
	lines := strings.Split(body, "\n")
	var out []string
	capturing := false
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			title := strings.TrimSpace(strings.TrimLeft(line, "# "))
			if strings.EqualFold(title, heading) {
				capturing = true
				continue
			}
			if capturing {
				break
			}
		}
		if capturing {
			out = append(out, line)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
