package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewright/codewright/internal/approval"
	"github.com/codewright/codewright/internal/audit"
	"github.com/codewright/codewright/internal/executor"
	"github.com/codewright/codewright/internal/permission"
	"github.com/codewright/codewright/internal/provider"
	"github.com/codewright/codewright/internal/stream"
	"github.com/codewright/codewright/internal/tools"
)

const defaultMaxTurns = 20

// runAbortKey carries the top-level run's cancel through nested Query calls.
type runAbortKey struct{}

// CandidateSelector resolves which of several competing completions
// continues the conversation.
type CandidateSelector func(ctx context.Context, candidates []*provider.ChatResponse) (*provider.ChatResponse, error)

// LoopOptions configures an orchestration loop.
type LoopOptions struct {
	Provider    provider.ModelProvider
	Registry    *tools.Registry
	Permissions *permission.Engine
	Approver    approval.Approver
	Approvals   *approval.Manager
	Events      *stream.Stream
	Audit       *audit.Log
	Logger      *slog.Logger
	Personas    *PersonaRegistry
	Model       string
	// SystemPrompt is the base system prompt for top-level runs.
	SystemPrompt string
	MaxTurns     int
	SafeMode     bool
	// Selector, when set, is consulted whenever the provider produces
	// multiple candidate completions.
	Selector   CandidateSelector
	Candidates int
}

// Loop drives a conversation to completion: it sends history plus tools to
// the model, gates and executes the requested tool calls, appends their
// results and repeats until the model answers in plain text. The same loop
// serves nested sub-agent runs through their own RunContext.
type Loop struct {
	provider     provider.ModelProvider
	registry     *tools.Registry
	permissions  *permission.Engine
	approver     approval.Approver
	approvals    *approval.Manager
	events       *stream.Stream
	audit        *audit.Log
	logger       *slog.Logger
	personas     *PersonaRegistry
	model        string
	systemPrompt string
	maxTurns     int
	safeMode     bool
	selector     CandidateSelector
	candidates   int
}

// NewLoop creates a loop and registers the task tool, wired back into this
// loop, on the registry.
func NewLoop(opts LoopOptions) *Loop {
	if opts.Registry == nil {
		opts.Registry = tools.NewRegistry()
	}
	if opts.Personas == nil {
		opts.Personas = NewPersonaRegistry()
	}
	if opts.Approvals == nil {
		opts.Approvals = approval.NewManager(opts.Audit)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 2
	}

	l := &Loop{
		provider:     opts.Provider,
		registry:     opts.Registry,
		permissions:  opts.Permissions,
		approver:     opts.Approver,
		approvals:    opts.Approvals,
		events:       opts.Events,
		audit:        opts.Audit,
		logger:       opts.Logger,
		personas:     opts.Personas,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		maxTurns:     opts.MaxTurns,
		safeMode:     opts.SafeMode,
		selector:     opts.Selector,
		candidates:   opts.Candidates,
	}

	l.registry.Register(&tools.TaskTool{
		Run:        l.runTask,
		AgentTypes: l.personas.Names,
	})
	return l
}

// Query runs the loop over conv until the model produces a final answer,
// the run is aborted, or a fatal error occurs. A nil rc starts a fresh
// top-level run. The conversation in the returned Result is always the
// state reached so far, whatever the terminal state.
func (l *Loop) Query(ctx context.Context, conv *Conversation, rc *RunContext) (*Result, error) {
	if conv == nil {
		conv = NewConversation()
	}
	if rc == nil {
		rc = NewRunContext(l.registry, l.safeMode)
	}
	if rc.Registry == nil {
		rc.Registry = l.registry
	}

	// Every run tree shares one abort: cancelling it stops the top-level
	// loop and every nested sub-agent run at once.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if parent, ok := ctx.Value(runAbortKey{}).(context.CancelFunc); ok {
		rc.abort = parent
	} else {
		rc.abort = cancel
		ctx = context.WithValue(ctx, runAbortKey{}, cancel)
	}

	maxTurns := rc.MaxTurns
	if maxTurns <= 0 {
		maxTurns = l.maxTurns
	}

	res := &Result{State: StateIdle, Conversation: conv}
	for turn := 0; turn < maxTurns; turn++ {
		if ctx.Err() != nil {
			res.State = StateAborted
			return res, nil
		}

		res.State = StateAwaitingModel
		resp, err := l.complete(ctx, rc, conv)
		if err != nil {
			if ctx.Err() != nil {
				res.State = StateAborted
				return res, nil
			}
			res.State = StateErrored
			return res, fmt.Errorf("model completion: %w", err)
		}
		res.Turns++
		conv.AddAssistant(resp.Content, resp.ToolCalls)

		if len(resp.ToolCalls) == 0 {
			res.State = StateDone
			res.FinalText = resp.Content
			return res, nil
		}

		res.State = StateProcessingToolCalls
		if aborted := l.processToolCalls(ctx, rc, conv, resp.ToolCalls, res); aborted {
			res.State = StateAborted
			return res, nil
		}
	}

	res.State = StateErrored
	return res, fmt.Errorf("run did not finish within %d turns", maxTurns)
}

// complete sends the conversation to the model, going through the
// candidate selector when the provider offers competing completions.
func (l *Loop) complete(ctx context.Context, rc *RunContext, conv *Conversation) (*provider.ChatResponse, error) {
	model := rc.Model
	if model == "" {
		model = l.model
	}
	if model == "" {
		model = l.provider.DefaultModel()
	}
	systemPrompt := rc.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = l.systemPrompt
	}

	messages := make([]provider.Message, 0, conv.Len()+1)
	if systemPrompt != "" {
		messages = append(messages, provider.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, conv.ModelMessages()...)

	req := &provider.ChatRequest{
		Model:    model,
		Messages: messages,
		Tools:    toolDefinitions(rc.Registry),
	}

	if l.selector != nil {
		if cp, ok := l.provider.(provider.CandidateProvider); ok {
			candidates, err := cp.ChatCandidates(ctx, req, l.candidates)
			if err == nil && len(candidates) > 1 {
				return l.selector(ctx, candidates)
			}
			if err == nil && len(candidates) == 1 {
				return candidates[0], nil
			}
			// Fall back to the single-completion path on candidate failure.
			l.logger.Warn("candidate completion failed, falling back", "error", err)
		}
	}
	return l.provider.Chat(ctx, req)
}

// processToolCalls resolves every call of one model turn to a terminal
// result and appends the results in request order. It reports whether the
// run was aborted mid-turn.
func (l *Loop) processToolCalls(ctx context.Context, rc *RunContext, conv *Conversation, calls []provider.ToolCall, res *Result) bool {
	results := make([]executor.CallResult, len(calls))
	var pending []executor.Call
	var pendingIdx []int
	aborted := false

	for i, call := range calls {
		res.ToolCalls++
		if aborted || ctx.Err() != nil {
			results[i] = executor.InterruptedResult(call.ID, call.Name)
			continue
		}

		tool, ok := rc.Registry.Get(call.Name)
		if !ok {
			results[i] = errorCallResult(call, fmt.Sprintf("tool not found: %s", call.Name))
			continue
		}
		if err := rc.Registry.ValidateInput(call.Name, call.Arguments); err != nil {
			results[i] = errorCallResult(call, "Input validation failed: "+err.Error())
			continue
		}

		cleared, result, stop := l.clearPermission(ctx, tool, call)
		if stop {
			aborted = true
			if rc.abort != nil {
				rc.abort()
			}
		}
		if !cleared {
			results[i] = result
			continue
		}
		pending = append(pending, executor.Call{ID: call.ID, Tool: tool, Input: call.Arguments})
		pendingIdx = append(pendingIdx, i)
	}

	if aborted || ctx.Err() != nil {
		// Cleared calls that never started still need terminal results.
		for _, i := range pendingIdx {
			results[i] = executor.InterruptedResult(calls[i].ID, calls[i].Name)
		}
	} else if len(pending) > 0 {
		exec := &executor.Executor{Events: l.events, AgentID: rc.AgentID, Audit: l.audit, Logger: l.logger}
		for j, r := range exec.ExecuteBatch(ctx, pending) {
			results[pendingIdx[j]] = r
		}
	}

	for i, call := range calls {
		r := results[i]
		conv.AddToolResult(call.ID, call.Name, r.ForAssistant(), r.IsError, r.Rejected, r.Interrupted)
		if r.Interrupted {
			aborted = true
		}
	}
	return aborted || ctx.Err() != nil
}

// clearPermission gates one call through the permission engine and, when
// needed, the human approval channel. It returns whether the call may run,
// the terminal result when it may not, and whether the whole run must abort.
func (l *Loop) clearPermission(ctx context.Context, tool tools.Tool, call provider.ToolCall) (bool, executor.CallResult, bool) {
	if l.permissions == nil {
		return true, executor.CallResult{}, false
	}

	decision := l.permissions.Evaluate(ctx, tool, call.Arguments)
	l.audit.PolicyDecision(call.ID, call.Name, decision.Verdict.String(), decision.Reason)

	switch decision.Verdict {
	case permission.Allow:
		return true, executor.CallResult{}, false
	case permission.Deny:
		return false, executor.RejectedResult(call.ID, call.Name, decision.Reason), false
	}

	if l.approver == nil {
		return false, executor.RejectedResult(call.ID, call.Name, "approval required but no approver is configured"), false
	}

	outcome, err := l.approvals.Resolve(ctx, &approval.Request{
		CallID:        call.ID,
		Tool:          call.Name,
		Input:         call.Arguments,
		Reason:        decision.Reason,
		CommandPrefix: decision.CommandPrefix,
	}, l.approver)
	if err != nil {
		return false, executor.InterruptedResult(call.ID, call.Name), true
	}

	switch outcome {
	case approval.AllowPermanent:
		if err := l.permissions.ApplyPermanent(decision); err != nil {
			l.logger.Warn("could not persist permission grant", "tool", call.Name, "error", err)
		}
		return true, executor.CallResult{}, false
	case approval.AllowTemporary:
		return true, executor.CallResult{}, false
	case approval.Reject:
		return false, executor.RejectedResult(call.ID, call.Name, "the user rejected this tool call"), false
	default: // approval.Abort
		return false, executor.InterruptedResult(call.ID, call.Name), true
	}
}

func errorCallResult(call provider.ToolCall, message string) executor.CallResult {
	return executor.CallResult{
		CallID:   call.ID,
		ToolName: call.Name,
		Result:   &tools.Result{Data: message, ForAssistant: "Error: " + message},
		IsError:  true,
	}
}

func toolDefinitions(registry *tools.Registry) []provider.ToolDefinition {
	list := registry.List()
	defs := make([]provider.ToolDefinition, 0, len(list))
	for _, tool := range list {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.InputSchema(),
			},
		})
	}
	return defs
}
