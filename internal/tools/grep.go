package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codewright/codewright/internal/stream"
)

const (
	grepResultLimit  = 200
	grepMaxLineBytes = 1 << 20
)

// GrepTool searches file contents with a regular expression.
type GrepTool struct {
	Root string
}

func (t *GrepTool) Name() string            { return "grep" }
func (t *GrepTool) IsReadOnly() bool        { return true }
func (t *GrepTool) IsConcurrencySafe() bool { return true }

func (t *GrepTool) NeedsPermission(input map[string]any) bool { return false }

func (t *GrepTool) Description() string {
	return "Search file contents with a regular expression. Returns matching lines as path:line:text. An optional glob restricts which files are searched."
}

func (t *GrepTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{
				"type":        "string",
				"description": "The regular expression to search for",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to search in, defaults to the project root",
			},
			"glob": map[string]any{
				"type":        "string",
				"description": "Only search files whose name matches this glob, e.g. '*.go'",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	pattern := GetString(input, "pattern", "")
	if pattern == "" {
		return nil, errors.New("pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	dir := expandPath(GetString(input, "path", t.Root))
	if dir == "" {
		dir = "."
	}
	nameGlob := GetString(input, "glob", "")

	var lines []string
	truncated := false
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
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
		if nameGlob != "" {
			if ok, _ := filepath.Match(nameGlob, d.Name()); !ok {
				return nil
			}
		}
		matches, err := grepFile(path, re, grepResultLimit-len(lines))
		if err != nil {
			return nil
		}
		lines = append(lines, matches...)
		if len(lines) >= grepResultLimit {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return TextResult("No matches found."), nil
	}
	text := strings.Join(lines, "\n")
	if truncated {
		text += fmt.Sprintf("\n(truncated to %d results)", grepResultLimit)
	}
	return &Result{Data: lines, ForAssistant: text}, nil
}

func grepFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), grepMaxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return nil, nil // binary file
		}
		if re.MatchString(line) {
			matches = append(matches, fmt.Sprintf("%s:%d:%s", path, lineNo, line))
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, scanner.Err()
}
