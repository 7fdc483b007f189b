package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codewright/codewright/internal/stream"
	"github.com/codewright/codewright/internal/tools"
)

// runTask is the task tool's execution: a nested loop run with an isolated
// conversation and a restricted tool set. It backs tools.TaskTool.
func (l *Loop) runTask(ctx context.Context, req tools.TaskRequest, p *stream.Producer) (string, error) {
	persona, ok := l.personas.Get(req.AgentType)
	if !ok {
		return "", fmt.Errorf("unknown agent type %q, valid types are: %s", req.AgentType, strings.Join(l.personas.Names(), ", "))
	}

	model := persona.Model
	if model == "" {
		model = l.model
	}
	if model == "" && l.provider != nil {
		model = l.provider.DefaultModel()
	}

	rc := &RunContext{
		AgentID:      uuid.NewString(),
		SafeMode:     l.safeMode,
		Registry:     l.subAgentRegistry(persona),
		SystemPrompt: l.subAgentPrompt(persona, model),
		Model:        persona.Model,
	}

	p.Progress(ctx, fmt.Sprintf("delegating to %s agent: %s", persona.Name, req.Description))

	conv := NewConversation()
	conv.AddUser(req.Prompt)

	res, err := l.Query(ctx, conv, rc)
	if err != nil {
		return "", fmt.Errorf("sub-agent run failed: %w", err)
	}
	if res.State == StateAborted {
		return "", context.Canceled
	}

	p.Progress(ctx, fmt.Sprintf("%s agent finished after %d turns and %d tool calls", persona.Name, res.Turns, res.ToolCalls))
	return res.FinalText, nil
}

// subAgentRegistry computes the nested tool set: read-only tools in safe
// mode, everything otherwise, always minus the task tool, then narrowed to
// the persona's whitelist unless it inherits all.
func (l *Loop) subAgentRegistry(persona *Persona) *tools.Registry {
	base := l.registry
	if l.safeMode {
		base = base.ReadOnly()
	}
	var include []string
	if !persona.InheritsAllTools() {
		include = persona.Tools
	}
	return base.Filter(include, []string{"task"})
}

// subAgentPrompt builds the nested system prompt. The model name is spelled
// out so the sub-agent does not try to consult "an expert model" that is
// actually itself.
func (l *Loop) subAgentPrompt(persona *Persona, model string) string {
	var b strings.Builder
	b.WriteString(persona.SystemPrompt)
	fmt.Fprintf(&b, "\n\nYou are running as the model %q. Do not attempt to delegate or defer to another model; answer with your own analysis.", model)
	b.WriteString("\nReturn a single final report; the caller only sees your last message.")
	return b.String()
}
