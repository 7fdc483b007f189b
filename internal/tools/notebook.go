package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codewright/codewright/internal/stream"
)

// NotebookEditTool replaces, inserts or deletes a cell in a Jupyter
// notebook. Like the other file-mutating tools it is gated by session-only
// write permission.
type NotebookEditTool struct {
	Root       string
	Timestamps *FileTimestamps
}

func (t *NotebookEditTool) Name() string            { return "notebook_edit" }
func (t *NotebookEditTool) IsReadOnly() bool        { return false }
func (t *NotebookEditTool) IsConcurrencySafe() bool { return false }

func (t *NotebookEditTool) NeedsPermission(input map[string]any) bool { return true }

func (t *NotebookEditTool) Description() string {
	return "Edit a Jupyter notebook cell. Mode 'replace' rewrites the cell source, 'insert' adds a new cell at the index, 'delete' removes it."
}

func (t *NotebookEditTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the .ipynb file",
			},
			"cell_index": map[string]any{
				"type":        "integer",
				"description": "0-based index of the cell to edit",
			},
			"mode": map[string]any{
				"type":        "string",
				"enum":        []string{"replace", "insert", "delete"},
				"description": "The edit mode, defaults to replace",
			},
			"source": map[string]any{
				"type":        "string",
				"description": "The new cell source, required for replace and insert",
			},
			"cell_type": map[string]any{
				"type":        "string",
				"enum":        []string{"code", "markdown"},
				"description": "Cell type for inserted cells, defaults to code",
			},
		},
		"required": []string{"path", "cell_index"},
	}
}

func (t *NotebookEditTool) ValidateInput(input map[string]any) error {
	path := expandPath(GetString(input, "path", ""))
	if path == "" {
		return errors.New("path is required")
	}
	if !strings.HasSuffix(path, ".ipynb") {
		return fmt.Errorf("not a notebook file: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if t.Root != "" && !isWithin(t.Root, abs) {
		return fmt.Errorf("path is outside the project root: %s", path)
	}
	mode := GetString(input, "mode", "replace")
	if mode != "delete" && GetString(input, "source", "") == "" {
		return fmt.Errorf("source is required for mode %q", mode)
	}
	return nil
}

func (t *NotebookEditTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expandPath(GetString(input, "path", "")))
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	index := GetInt(input, "cell_index", -1)
	mode := GetString(input, "mode", "replace")
	source := GetString(input, "source", "")
	cellType := GetString(input, "cell_type", "code")

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	var nb map[string]any
	if err := json.Unmarshal(raw, &nb); err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}
	cells, _ := nb["cells"].([]any)

	switch mode {
	case "replace":
		if index < 0 || index >= len(cells) {
			return nil, fmt.Errorf("cell index %d out of range (notebook has %d cells)", index, len(cells))
		}
		cell, ok := cells[index].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cell %d is malformed", index)
		}
		cell["source"] = splitSourceLines(source)
	case "insert":
		if index < 0 || index > len(cells) {
			return nil, fmt.Errorf("cell index %d out of range for insert (notebook has %d cells)", index, len(cells))
		}
		cell := map[string]any{
			"cell_type": cellType,
			"source":    splitSourceLines(source),
			"metadata":  map[string]any{},
		}
		if cellType == "code" {
			cell["outputs"] = []any{}
			cell["execution_count"] = nil
		}
		cells = append(cells[:index], append([]any{cell}, cells[index:]...)...)
	case "delete":
		if index < 0 || index >= len(cells) {
			return nil, fmt.Errorf("cell index %d out of range (notebook has %d cells)", index, len(cells))
		}
		cells = append(cells[:index], cells[index+1:]...)
	default:
		return nil, fmt.Errorf("unknown mode: %s", mode)
	}
	nb["cells"] = cells

	encoded, err := json.MarshalIndent(nb, "", " ")
	if err != nil {
		return nil, fmt.Errorf("encode notebook: %w", err)
	}
	if err := os.WriteFile(abs, append(encoded, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", abs, err)
	}
	if t.Timestamps != nil {
		t.Timestamps.Record(abs, time.Now())
	}
	return TextResult(fmt.Sprintf("Applied %s to cell %d of %s", mode, index, abs)), nil
}

// splitSourceLines converts source text to the notebook's line-array form,
// keeping trailing newlines on every line but the last.
func splitSourceLines(source string) []string {
	lines := strings.SplitAfter(source, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
