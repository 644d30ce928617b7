// Package search implements the file.search tool: locating files under the sandbox by
// name, either via a glob pattern or a fuzzy substring match.
package search

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/turnstile/turnstile/internal/llmstream"
	"github.com/turnstile/turnstile/internal/tools/authdomain"
	"github.com/turnstile/turnstile/internal/tools/coretools"
)

//go:embed search.md
var description string

const (
	ToolNameSearch  = "search"
	defaultMaxHits  = 200
	maxAllowedHits  = 1000
	defaultSearchAt = "."
)

type toolSearch struct {
	sandboxAbsDir string
	authorizer    authdomain.Authorizer
}

type params struct {
	Query             string `json:"query"`
	Path              string `json:"path"`
	Glob              string `json:"glob"`
	MaxResults        int    `json:"max_results"`
	RequestPermission bool   `json:"request_permission"`
}

// NewSearchTool returns a tool that finds files under the sandbox by glob pattern (if
// glob is set) or fuzzy substring match against query (scored by match position/length).
func NewSearchTool(authorizer authdomain.Authorizer) llmstream.Tool {
	return &toolSearch{
		sandboxAbsDir: authorizer.SandboxDir(),
		authorizer:    authorizer,
	}
}

func (t *toolSearch) Name() string { return ToolNameSearch }

func (t *toolSearch) Info() llmstream.ToolInfo {
	return llmstream.ToolInfo{
		Name:        ToolNameSearch,
		Description: strings.TrimSpace(description),
		Parameters: map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Fuzzy substring to match against filenames. Ignored if glob is set.",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Optional glob pattern (supports ** for recursive matching), e.g. '**/*.go'",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Base directory to search from (absolute, or relative to sandbox dir). Defaults to the sandbox root.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of matches to return (default 200, capped at 1000)",
			},
			"request_permission": map[string]any{
				"type":        "boolean",
				"description": "Optionally request the user's permission to search outside sandbox dir",
			},
		},
	}
}

func (t *toolSearch) Run(ctx context.Context, call llmstream.ToolCall) llmstream.ToolResult {
	var p params
	if err := json.Unmarshal([]byte(call.Input), &p); err != nil {
		return coretools.NewToolErrorResult(call, fmt.Sprintf("error parsing parameters: %s", err), err)
	}

	if strings.TrimSpace(p.Query) == "" && strings.TrimSpace(p.Glob) == "" {
		return llmstream.NewErrorToolResult("one of query or glob is required", call)
	}

	base := p.Path
	if strings.TrimSpace(base) == "" {
		base = defaultSearchAt
	}
	absBase, _, normErr := coretools.NormalizePath(base, t.sandboxAbsDir, coretools.WantPathTypeDir, true)
	if normErr != nil {
		return coretools.NewToolErrorResult(call, normErr.Error(), normErr)
	}

	if t.authorizer != nil {
		if authErr := t.authorizer.IsAuthorizedForRead(p.RequestPermission, "", ToolNameSearch, absBase); authErr != nil {
			return coretools.NewAuthDeniedToolResult(call, authErr)
		}
	}

	limit := p.MaxResults
	if limit <= 0 {
		limit = defaultMaxHits
	}
	if limit > maxAllowedHits {
		limit = maxAllowedHits
	}

	var matches []string
	var err error
	if strings.TrimSpace(p.Glob) != "" {
		matches, err = globMatches(absBase, p.Glob, limit)
	} else {
		matches, err = fuzzyMatches(absBase, p.Query, limit)
	}
	if err != nil {
		return coretools.NewToolErrorResult(call, err.Error(), err)
	}

	if len(matches) == 0 {
		return llmstream.ToolResult{CallID: call.CallID, Name: call.Name, Type: call.Type, Result: "no matches found"}
	}

	return llmstream.ToolResult{CallID: call.CallID, Name: call.Name, Type: call.Type, Result: strings.Join(matches, "\n")}
}

func globMatches(absBase, pattern string, limit int) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern: %s", pattern)
	}

	fsys := os.DirFS(absBase)
	var matches []string
	err := doublestar.GlobWalk(fsys, pattern, func(path string, d fs.DirEntry) error {
		if d.IsDir() {
			return nil
		}
		matches = append(matches, filepath.Join(absBase, path))
		if len(matches) >= limit {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("glob walk: %w", err)
	}
	return matches, nil
}

type scoredMatch struct {
	path  string
	score int
}

// fuzzyMatches walks absBase and scores every filename containing query (case-insensitive)
// by match position (earlier is better) and name length (shorter is better), returning the
// best `limit` matches.
func fuzzyMatches(absBase, query string, limit int) ([]string, error) {
	needle := strings.ToLower(query)

	var scored []scoredMatch
	err := filepath.WalkDir(absBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		name := strings.ToLower(d.Name())
		idx := strings.Index(name, needle)
		if idx < 0 {
			return nil
		}
		scored = append(scored, scoredMatch{path: path, score: idx*1000 + len(name)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.path
	}
	return out, nil
}
