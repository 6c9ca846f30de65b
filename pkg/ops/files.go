// Copyright 2026 © The Dirigo Authors
// SPDX-License-Identifier: Apache-2.0

package ops

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jllopis/dirigo/pkg/errors"
	"github.com/jllopis/dirigo/pkg/opqueue"
	"github.com/jllopis/dirigo/pkg/sandbox"
)

const defaultMaxFiles = 100

// FileMatch is one matched project file. Path is root-relative with a
// leading separator and never contains ".." segments.
type FileMatch struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Ext  string `json:"ext,omitempty"`
}

// analyzeFiles recursively scans the project tree for files matching the
// given glob patterns, excluding node_modules and dot-directories.
// Sub-directories of the project root are scanned as parallel queue tasks.
func (e *Env) analyzeFiles(ctx context.Context, sb *sandbox.Context, call Call) (any, error) {
	patterns := stringsArg(call.Args, "patterns")
	maxFiles := int(numberArg(call.Args, "maxFiles", defaultMaxFiles))
	if maxFiles <= 0 {
		// Explicit non-positive cap yields an empty result set.
		return map[string]any{"totalFiles": 0, "files": []FileMatch{}}, nil
	}

	if err := sb.ConsumeFSOp(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(sb.ProjectPath)
	if err != nil {
		return nil, errors.New(errors.CodeDispatchFailure, "analyzeFiles: read project root", err)
	}

	var (
		mu       sync.Mutex
		matches  []FileMatch
		wg       sync.WaitGroup
		firstErr error
	)
	record := func(found []FileMatch, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		matches = append(matches, found...)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if excludedDir(name) {
				continue
			}
			dir := name
			scan := func(taskCtx context.Context) (any, error) {
				return scanSubtree(taskCtx, sb, dir, patterns)
			}
			if e.Queue != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					value, err := e.Queue.Enqueue(ctx, scan, opqueue.WithPriority(opqueue.PriorityNormal))
					if err != nil && (stderrors.Is(err, opqueue.ErrQueueFull) || stderrors.Is(err, opqueue.ErrQueueShutDown)) {
						// Queue at capacity: fall back to scanning inline
						// rather than failing the whole operation.
						value, err = scan(ctx)
					}
					found, _ := value.([]FileMatch)
					record(found, err)
				}()
				continue
			}
			found, err := scan(ctx)
			files, _ := found.([]FileMatch)
			record(files, err)
			continue
		}
		if matchesAny(patterns, name) {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			record([]FileMatch{{
				Path: "/" + name,
				Size: info.Size(),
				Ext:  filepath.Ext(name),
			}}, nil)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	total := len(matches)
	if len(matches) > maxFiles {
		matches = matches[:maxFiles]
	}
	return map[string]any{"totalFiles": total, "files": matches}, nil
}

// scanSubtree walks one top-level directory of the project.
func scanSubtree(ctx context.Context, sb *sandbox.Context, dir string, patterns []string) ([]FileMatch, error) {
	root := filepath.Join(sb.ProjectPath, dir)
	var found []FileMatch
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && excludedDir(d.Name()) {
				return filepath.SkipDir
			}
			// Each directory listing counts against the budget.
			return sb.ConsumeFSOp()
		}
		rel, err := filepath.Rel(sb.ProjectPath, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchesAny(patterns, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, FileMatch{
			Path: "/" + rel,
			Size: info.Size(),
			Ext:  filepath.Ext(rel),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// excludedDir reports whether a directory is never scanned.
func excludedDir(name string) bool {
	return name == "node_modules" || strings.HasPrefix(name, ".")
}

// matchesAny reports whether a slash-separated relative path matches any
// pattern. Patterns without a separator match against the basename so
// "*.go" finds nested files; patterns with separators support "**".
func matchesAny(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	base := rel
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		base = rel[idx+1:]
	}
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "/") {
			if ok, _ := filepath.Match(pattern, base); ok {
				return true
			}
			continue
		}
		if matchGlob(pattern, rel) {
			return true
		}
	}
	return false
}

// matchGlob matches a slash-separated glob supporting "**" segments.
func matchGlob(pattern, path string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(path, "/"))
}

func matchSegments(pattern, parts []string) bool {
	if len(pattern) == 0 {
		return len(parts) == 0
	}
	if pattern[0] == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(pattern[1:], parts[i:]) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if ok, _ := filepath.Match(pattern[0], parts[0]); !ok {
		return false
	}
	return matchSegments(pattern[1:], parts[1:])
}

// knownManifests maps manifest files to how they are interpreted.
var knownManifests = []string{
	"package.json",
	"tsconfig.json",
	"go.mod",
	"go.sum",
	"Cargo.toml",
	"pyproject.toml",
	"requirements.txt",
	"Makefile",
	"Dockerfile",
}

// scanEnvironment inspects the project's manifest and config files.
func (e *Env) scanEnvironment(sb *sandbox.Context) (any, error) {
	var configFiles []string
	for _, name := range knownManifests {
		if err := sb.ConsumeFSOp(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(filepath.Join(sb.ProjectPath, name)); err == nil {
			configFiles = append(configFiles, name)
		}
	}

	result := map[string]any{
		"configFiles":   configFiles,
		"dependencies":  []string{},
		"hasTypeScript": contains(configFiles, "tsconfig.json"),
		"hasGoModule":   contains(configFiles, "go.mod"),
	}

	if contains(configFiles, "package.json") {
		if err := sb.ConsumeFSOp(); err != nil {
			return nil, err
		}
		if deps, err := nodeDependencies(filepath.Join(sb.ProjectPath, "package.json")); err == nil {
			result["dependencies"] = deps
		}
	} else if contains(configFiles, "go.mod") {
		if err := sb.ConsumeFSOp(); err != nil {
			return nil, err
		}
		if deps, module, err := goDependencies(filepath.Join(sb.ProjectPath, "go.mod")); err == nil {
			result["dependencies"] = deps
			result["module"] = module
		}
	}
	return result, nil
}

// nodeDependencies lists dependency names from a package.json.
func nodeDependencies(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	deps := make([]string, 0, len(manifest.Dependencies)+len(manifest.DevDependencies))
	for name := range manifest.Dependencies {
		deps = append(deps, name)
	}
	for name := range manifest.DevDependencies {
		deps = append(deps, name)
	}
	sort.Strings(deps)
	return deps, nil
}

// goDependencies lists direct require paths and the module path from a go.mod.
func goDependencies(path string) ([]string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var deps []string
	module := ""
	inRequire := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "module "):
			module = strings.TrimSpace(strings.TrimPrefix(line, "module "))
		case strings.HasPrefix(line, "require ("):
			inRequire = true
		case inRequire && line == ")":
			inRequire = false
		case inRequire && line != "" && !strings.HasPrefix(line, "//"):
			fields := strings.Fields(line)
			if len(fields) >= 2 && !strings.Contains(line, "// indirect") {
				deps = append(deps, fields[0])
			}
		case strings.HasPrefix(line, "require ") && !strings.Contains(line, "("):
			fields := strings.Fields(strings.TrimPrefix(line, "require "))
			if len(fields) >= 2 {
				deps = append(deps, fields[0])
			}
		}
	}
	sort.Strings(deps)
	return deps, module, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
