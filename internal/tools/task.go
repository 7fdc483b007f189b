package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/codewright/codewright/internal/stream"
)

// TaskRequest describes one delegated sub-agent run.
type TaskRequest struct {
	Description string
	Prompt      string
	AgentType   string
}

// TaskRunner executes a sub-agent run and returns the final assistant text.
// The agent package supplies this callback so the tool does not import the
// orchestration loop.
type TaskRunner func(ctx context.Context, req TaskRequest, p *stream.Producer) (string, error)

// TaskTool delegates a self-contained task to a specialized sub-agent.
// The nested run gets its own conversation and a tool set that never
// includes this tool.
type TaskTool struct {
	Run        TaskRunner
	AgentTypes func() []string
}

func (t *TaskTool) Name() string            { return "task" }
func (t *TaskTool) IsReadOnly() bool        { return false }
func (t *TaskTool) IsConcurrencySafe() bool { return true }

func (t *TaskTool) NeedsPermission(input map[string]any) bool { return false }

func (t *TaskTool) Description() string {
	types := "general-purpose"
	if t.AgentTypes != nil {
		types = strings.Join(t.AgentTypes(), ", ")
	}
	return fmt.Sprintf("Delegate a self-contained task to a sub-agent. The sub-agent works in its own conversation and returns a single report. Available agent types: %s.", types)
}

func (t *TaskTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{
				"type":        "string",
				"description": "A short 3-5 word description of the task",
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The full task for the sub-agent to perform",
			},
			"subagent_type": map[string]any{
				"type":        "string",
				"description": "The agent type to delegate to",
			},
		},
		"required": []string{"description", "prompt", "subagent_type"},
	}
}

func (t *TaskTool) ValidateInput(input map[string]any) error {
	if GetString(input, "prompt", "") == "" {
		return errors.New("prompt is required")
	}
	agentType := GetString(input, "subagent_type", "")
	if agentType == "" {
		return errors.New("subagent_type is required")
	}
	if t.AgentTypes != nil {
		valid := t.AgentTypes()
		for _, name := range valid {
			if name == agentType {
				return nil
			}
		}
		return fmt.Errorf("unknown agent type %q, valid types are: %s", agentType, strings.Join(valid, ", "))
	}
	return nil
}

func (t *TaskTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error) {
	if err := t.ValidateInput(input); err != nil {
		return nil, err
	}
	if t.Run == nil {
		return nil, errors.New("sub-agent dispatch is not configured")
	}
	req := TaskRequest{
		Description: GetString(input, "description", ""),
		Prompt:      GetString(input, "prompt", ""),
		AgentType:   GetString(input, "subagent_type", ""),
	}
	report, err := t.Run(ctx, req, p)
	if err != nil {
		return nil, err
	}
	if report == "" {
		report = "(sub-agent produced no final answer)"
	}
	return TextResult(report), nil
}
