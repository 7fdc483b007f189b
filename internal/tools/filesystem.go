package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codewright/codewright/internal/stream"
)

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// ReadFileTool reads the contents of a file and records the read time for
// staleness detection by the edit tools.
type ReadFileTool struct {
	Timestamps *FileTimestamps
}

func (t *ReadFileTool) Name() string            { return "read_file" }
func (t *ReadFileTool) IsReadOnly() bool        { return true }
func (t *ReadFileTool) IsConcurrencySafe() bool { return true }

func (t *ReadFileTool) NeedsPermission(input map[string]any) bool { return false }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path. Supports an optional line offset and limit for large files."
}

func (t *ReadFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "1-based line to start reading from",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	path := expandPath(GetString(input, "path", ""))
	if path == "" {
		return nil, errors.New("path is required")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if t.Timestamps != nil {
		t.Timestamps.Record(path, time.Now())
	}

	text := string(content)
	offset := GetInt(input, "offset", 0)
	limit := GetInt(input, "limit", 0)
	if offset > 0 || limit > 0 {
		lines := strings.Split(text, "\n")
		start := 0
		if offset > 0 {
			start = offset - 1
		}
		if start >= len(lines) {
			return TextResult(""), nil
		}
		end := len(lines)
		if limit > 0 && start+limit < end {
			end = start + limit
		}
		text = strings.Join(lines[start:end], "\n")
	}
	return TextResult(text), nil
}

// WriteFileTool writes content to a file inside the project root.
type WriteFileTool struct {
	Root       string
	Timestamps *FileTimestamps
}

func (t *WriteFileTool) Name() string            { return "write_file" }
func (t *WriteFileTool) IsReadOnly() bool        { return false }
func (t *WriteFileTool) IsConcurrencySafe() bool { return false }

func (t *WriteFileTool) NeedsPermission(input map[string]any) bool { return true }

func (t *WriteFileTool) Description() string {
	return "Write content to a file at the specified path. Creates parent directories if needed. Writes are restricted to the project root."
}

func (t *WriteFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) ValidateInput(input map[string]any) error {
	path := expandPath(GetString(input, "path", ""))
	if path == "" {
		return errors.New("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if t.Root != "" && !isWithin(t.Root, abs) {
		return fmt.Errorf("path is outside the project root: %s", path)
	}
	return t.checkStale(abs)
}

func (t *WriteFileTool) checkStale(abs string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return nil // new file
	}
	if t.Timestamps != nil && t.Timestamps.Stale(abs, info.ModTime()) {
		return fmt.Errorf("file has changed on disk since it was last read, read it again before writing: %s", abs)
	}
	return nil
}

func (t *WriteFileTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	path := expandPath(GetString(input, "path", ""))
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	content := GetString(input, "content", "")

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", abs, err)
	}
	if t.Timestamps != nil {
		t.Timestamps.Record(abs, time.Now())
	}
	return TextResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), abs)), nil
}

// EditFileTool replaces text in a file inside the project root. The file
// must have been read during this run, and must not have changed on disk
// since that read.
type EditFileTool struct {
	Root       string
	Timestamps *FileTimestamps
}

func (t *EditFileTool) Name() string            { return "edit_file" }
func (t *EditFileTool) IsReadOnly() bool        { return false }
func (t *EditFileTool) IsConcurrencySafe() bool { return false }

func (t *EditFileTool) NeedsPermission(input map[string]any) bool { return true }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. old_text must match exactly once unless replace_all is set. Edits are restricted to the project root."
}

func (t *EditFileTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The text to find and replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The replacement text",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique match",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) ValidateInput(input map[string]any) error {
	path := expandPath(GetString(input, "path", ""))
	if path == "" {
		return errors.New("path is required")
	}
	if GetString(input, "old_text", "") == "" {
		return errors.New("old_text is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if t.Root != "" && !isWithin(t.Root, abs) {
		return fmt.Errorf("path is outside the project root: %s", path)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", abs)
		}
		return fmt.Errorf("stat %s: %w", abs, err)
	}
	if t.Timestamps != nil {
		if _, read := t.Timestamps.Get(abs); !read {
			return fmt.Errorf("file must be read before editing: %s", abs)
		}
		if t.Timestamps.Stale(abs, info.ModTime()) {
			return fmt.Errorf("file has changed on disk since it was last read, read it again before editing: %s", abs)
		}
	}
	return nil
}

func (t *EditFileTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	path := expandPath(GetString(input, "path", ""))
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	oldText := GetString(input, "old_text", "")
	newText := GetString(input, "new_text", "")
	replaceAll := GetBool(input, "replace_all", false)

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	content := string(raw)

	count := strings.Count(content, oldText)
	if count == 0 {
		return nil, fmt.Errorf("old_text not found in %s", abs)
	}
	if count > 1 && !replaceAll {
		return nil, fmt.Errorf("old_text matches %d times in %s, make it unique or set replace_all", count, abs)
	}

	if replaceAll {
		content = strings.ReplaceAll(content, oldText, newText)
	} else {
		content = strings.Replace(content, oldText, newText, 1)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", abs, err)
	}
	if t.Timestamps != nil {
		t.Timestamps.Record(abs, time.Now())
	}
	replaced := 1
	if replaceAll {
		replaced = count
	}
	return TextResult(fmt.Sprintf("Replaced %d occurrence(s) in %s", replaced, abs)), nil
}

// ListDirTool lists the entries of a directory.
type ListDirTool struct{}

func (t *ListDirTool) Name() string            { return "list_dir" }
func (t *ListDirTool) IsReadOnly() bool        { return true }
func (t *ListDirTool) IsConcurrencySafe() bool { return true }

func (t *ListDirTool) NeedsPermission(input map[string]any) bool { return false }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory. Directories are suffixed with a slash."
}

func (t *ListDirTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to list",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	path := expandPath(GetString(input, "path", ""))
	if path == "" {
		return nil, errors.New("path is required")
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", path)
		}
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return TextResult("(empty directory)"), nil
	}
	return TextResult(strings.Join(names, "\n")), nil
}
