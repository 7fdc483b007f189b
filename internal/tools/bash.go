package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codewright/codewright/internal/shell"
	"github.com/codewright/codewright/internal/stream"
)

// BashTool executes shell commands through the process-wide shell session.
// The session serializes commands and keeps the working directory inside
// the project root.
type BashTool struct {
	Session *shell.Session
}

func (t *BashTool) Name() string            { return "bash" }
func (t *BashTool) IsReadOnly() bool        { return false }
func (t *BashTool) IsConcurrencySafe() bool { return false }

func (t *BashTool) NeedsPermission(input map[string]any) bool { return true }

func (t *BashTool) Description() string {
	return "Execute a shell command in the persistent project shell. The working directory persists across calls and cannot leave the project root."
}

func (t *BashTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in milliseconds for this command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) ValidateInput(input map[string]any) error {
	command := GetString(input, "command", "")
	if strings.TrimSpace(command) == "" {
		return errors.New("command is required")
	}
	return t.Session.Screen(command)
}

func (t *BashTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	command := GetString(input, "command", "")
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	timeout := time.Duration(GetInt(input, "timeout_ms", 0)) * time.Millisecond

	p.Progress(ctx, fmt.Sprintf("$ %s", command))

	out, err := t.Session.Run(ctx, command, timeout)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	if out.Stdout != "" {
		b.WriteString(out.Stdout)
	}
	if out.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(out.Stderr)
	}
	if out.TimedOut {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("(command timed out)")
	}
	if out.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "(exit code %d)", out.ExitCode)
	}
	text := b.String()
	if text == "" {
		text = "(no output)"
	}
	return &Result{Data: out, ForAssistant: text}, nil
}
