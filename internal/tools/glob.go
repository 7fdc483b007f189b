package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codewright/codewright/internal/stream"
)

const globResultLimit = 200

// GlobTool finds files matching a glob pattern, newest first.
type GlobTool struct {
	Root string
}

func (t *GlobTool) Name() string            { return "glob" }
func (t *GlobTool) IsReadOnly() bool        { return true }
func (t *GlobTool) IsConcurrencySafe() bool { return true }

func (t *GlobTool) NeedsPermission(input map[string]any) bool { return false }

func (t *GlobTool) Description() string {
	return "Find files matching a glob pattern such as '*.go' or '**/*_test.go'. Results are sorted by modification time, newest first."
}

func (t *GlobTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The glob pattern to match files against",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to search in, defaults to the project root",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GlobTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	pattern := GetString(input, "pattern", "")
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	dir := expandPath(GetString(input, "path", t.Root))
	if dir == "" {
		dir = "."
	}

	matches, err := globFiles(ctx, dir, pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return TextResult("No files matched the pattern."), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].modTime.After(matches[j].modTime)
	})
	truncated := false
	if len(matches) > globResultLimit {
		matches = matches[:globResultLimit]
		truncated = true
	}
	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.path
	}
	text := strings.Join(paths, "\n")
	if truncated {
		text += fmt.Sprintf("\n(truncated to %d results)", globResultLimit)
	}
	return &Result{Data: paths, ForAssistant: text}, nil
}

type fileMatch struct {
	path    string
	modTime time.Time
}

func globFiles(ctx context.Context, dir, pattern string) ([]fileMatch, error) {
	var matches []fileMatch
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		if !matchGlob(pattern, rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		matches = append(matches, fileMatch{path: path, modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// matchGlob matches a relative path against a pattern. A "**" segment
// matches any number of directories, including none, anywhere in the
// pattern, so "src/**/*.go" covers both "src/x.go" and "src/a/b/x.go".
func matchGlob(pattern, rel string) bool {
	return matchSegments(
		strings.Split(filepath.ToSlash(pattern), "/"),
		strings.Split(filepath.ToSlash(rel), "/"),
	)
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
