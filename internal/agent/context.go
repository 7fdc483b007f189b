package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/codewright/codewright/internal/tools"
)

// State is the orchestration loop's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingModel
	StateProcessingToolCalls
	StateDone
	StateAborted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting-model"
	case StateProcessingToolCalls:
		return "processing-tool-calls"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// RunContext is the per-invocation execution context threaded through every
// tool call of one loop run. Nested sub-agent runs get their own.
type RunContext struct {
	AgentID  string
	ParentID string
	// SafeMode gates permission evaluation; without it everything runs.
	SafeMode bool
	// Model overrides the loop's default model when set.
	Model string
	// Registry is the active tool set for this run.
	Registry *tools.Registry
	// SystemPrompt is prepended to the model context.
	SystemPrompt string
	MaxTurns     int

	// abort cancels the whole run tree. A user abort inside a nested
	// sub-agent run must terminate every enclosing loop, so nested runs
	// inherit the top-level cancel.
	abort context.CancelFunc
}

// NewRunContext creates a top-level run context.
func NewRunContext(registry *tools.Registry, safeMode bool) *RunContext {
	return &RunContext{
		AgentID:  uuid.NewString(),
		SafeMode: safeMode,
		Registry: registry,
	}
}

// Result is what a finished loop run hands back to the caller. The
// conversation is preserved even on abort or error so it can be inspected
// or resumed.
type Result struct {
	State        State
	FinalText    string
	Conversation *Conversation
	Turns        int
	ToolCalls    int
}
