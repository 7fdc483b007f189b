package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codewright/codewright/internal/approval"
	"github.com/codewright/codewright/internal/permission"
	"github.com/codewright/codewright/internal/provider"
	"github.com/codewright/codewright/internal/stream"
	"github.com/codewright/codewright/internal/tools"
)

// scriptedProvider replays a fixed sequence of assistant turns.
type scriptedProvider struct {
	mu    sync.Mutex
	turns []*provider.ChatResponse
	calls int
}

func (p *scriptedProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.turns) {
		return nil, errors.New("script exhausted")
	}
	turn := p.turns[p.calls]
	p.calls++
	return turn, nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type echoTool struct {
	name   string
	safe   bool
	delay  time.Duration
	record *[]string
	mu     *sync.Mutex
}

func (t *echoTool) Name() string                              { return t.name }
func (t *echoTool) Description() string                       { return t.name }
func (t *echoTool) InputSchema() map[string]any               { return map[string]any{"type": "object"} }
func (t *echoTool) IsReadOnly() bool                          { return t.safe }
func (t *echoTool) IsConcurrencySafe() bool                   { return t.safe }
func (t *echoTool) NeedsPermission(input map[string]any) bool { return !t.safe }

func (t *echoTool) Call(ctx context.Context, input map[string]any, p *stream.Producer) (*tools.Result, error) {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.record != nil {
		t.mu.Lock()
		*t.record = append(*t.record, t.name)
		t.mu.Unlock()
	}
	return tools.TextResult("ran " + t.name), nil
}

func textTurn(text string) *provider.ChatResponse {
	return &provider.ChatResponse{Content: text}
}

func toolTurn(calls ...provider.ToolCall) *provider.ChatResponse {
	return &provider.ChatResponse{ToolCalls: calls}
}

func toolMessages(conv *Conversation) []Message {
	var out []Message
	for _, m := range conv.Messages() {
		if m.Role == RoleTool {
			out = append(out, m)
		}
	}
	return out
}

// Read-only tool in permissive mode: no prompting, one tool round-trip,
// then a final text answer.
func TestReadOnlyToolRunsWithoutPrompting(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "glob", Arguments: map[string]any{"pattern": "*"}}),
		textTurn("two files found"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "glob", safe: true})

	prompted := false
	l := NewLoop(LoopOptions{
		Provider: p,
		Registry: registry,
		Permissions: permission.NewEngine("/project", false, permission.NewMemoryGrantStore()),
		Approver: approval.ApproverFunc(func(ctx context.Context, req *approval.Request) (approval.Outcome, error) {
			prompted = true
			return approval.Reject, nil
		}),
	})

	conv := NewConversation()
	conv.AddUser("list files in /tmp")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want Done", res.State)
	}
	if res.FinalText != "two files found" {
		t.Fatalf("final text = %q", res.FinalText)
	}
	if res.Turns != 2 {
		t.Fatalf("turns = %d, want 2", res.Turns)
	}
	if prompted {
		t.Fatal("permissive mode still prompted for approval")
	}
	if open := conv.UnresolvedToolCalls(); len(open) != 0 {
		t.Fatalf("unresolved tool calls remain: %v", open)
	}
}

// Safe mode with no grants: the call needs approval; a human reject becomes
// a rejection-shaped result and the model sees it on the next turn.
func TestRejectionShortCircuitsCallButNotLoop(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "deploy", Arguments: map[string]any{}}),
		textTurn("understood, not deploying"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "deploy", safe: false})

	l := NewLoop(LoopOptions{
		Provider:    p,
		Registry:    registry,
		SafeMode:    true,
		Permissions: permission.NewEngine("/project", true, permission.NewMemoryGrantStore()),
		Approver: approval.ApproverFunc(func(ctx context.Context, req *approval.Request) (approval.Outcome, error) {
			return approval.Reject, nil
		}),
	})

	conv := NewConversation()
	conv.AddUser("deploy the service")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want Done", res.State)
	}
	msgs := toolMessages(conv)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(msgs))
	}
	if !msgs[0].Rejected {
		t.Fatal("rejected call not marked as rejection")
	}
	if !strings.Contains(msgs[0].Content, "rejected") {
		t.Fatalf("rejection reason missing from result: %q", msgs[0].Content)
	}
	if p.callCount() != 2 {
		t.Fatalf("loop stopped after rejection: %d model calls", p.callCount())
	}
}

// An approved permanent grant lets the identical call re-run without
// prompting a second time.
func TestPermanentApprovalStopsReprompting(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "deploy", Arguments: map[string]any{}}),
		toolTurn(provider.ToolCall{ID: "c2", Name: "deploy", Arguments: map[string]any{}}),
		textTurn("done"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "deploy", safe: false})

	prompts := 0
	l := NewLoop(LoopOptions{
		Provider:    p,
		Registry:    registry,
		SafeMode:    true,
		Permissions: permission.NewEngine("/project", true, permission.NewMemoryGrantStore()),
		Approver: approval.ApproverFunc(func(ctx context.Context, req *approval.Request) (approval.Outcome, error) {
			prompts++
			return approval.AllowPermanent, nil
		}),
	})

	conv := NewConversation()
	conv.AddUser("deploy twice")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v", res.State)
	}
	if prompts != 1 {
		t.Fatalf("expected exactly one prompt, got %d", prompts)
	}
}

// Unknown sub-agent type: a validation-style result naming the valid types,
// and the loop keeps going.
func TestUnknownAgentTypeIsValidationResult(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "task", Arguments: map[string]any{
			"description": "explore", "prompt": "look around", "subagent_type": "nonexistent",
		}}),
		textTurn("ok, using a valid type next time"),
	}}
	l := NewLoop(LoopOptions{Provider: p, Registry: tools.NewRegistry()})

	conv := NewConversation()
	conv.AddUser("delegate this")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want Done", res.State)
	}
	msgs := toolMessages(conv)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(msgs))
	}
	if !msgs[0].IsError {
		t.Fatal("unknown agent type did not produce an error result")
	}
	if !strings.Contains(msgs[0].Content, "general-purpose") {
		t.Fatalf("result does not list valid agent types: %q", msgs[0].Content)
	}
}

// Abort mid-flight: the in-flight call resolves as interrupted, the run
// ends Aborted, and no further model calls are issued.
func TestAbortInterruptsInFlightCall(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "slow", Arguments: map[string]any{}}),
		textTurn("never reached"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "slow", safe: false, delay: 5 * time.Second})

	l := NewLoop(LoopOptions{Provider: p, Registry: registry})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	conv := NewConversation()
	conv.AddUser("run the slow thing")
	res, err := l.Query(ctx, conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateAborted {
		t.Fatalf("state = %v, want Aborted", res.State)
	}
	msgs := toolMessages(conv)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(msgs))
	}
	if !msgs[0].Interrupted {
		t.Fatal("in-flight call not marked interrupted")
	}
	if p.callCount() != 1 {
		t.Fatalf("model called again after abort: %d calls", p.callCount())
	}
	if open := conv.UnresolvedToolCalls(); len(open) != 0 {
		t.Fatalf("dangling tool calls after abort: %v", open)
	}
}

// A batch with an unsafe call keeps request order end to end.
func TestUnsafeBatchPreservesRequestOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "alpha", safe: true, delay: 20 * time.Millisecond, record: &order, mu: &mu})
	registry.Register(&echoTool{name: "beta", safe: false, record: &order, mu: &mu})
	registry.Register(&echoTool{name: "gamma", safe: true, record: &order, mu: &mu})

	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(
			provider.ToolCall{ID: "c1", Name: "alpha", Arguments: map[string]any{}},
			provider.ToolCall{ID: "c2", Name: "beta", Arguments: map[string]any{}},
			provider.ToolCall{ID: "c3", Name: "gamma", Arguments: map[string]any{}},
		),
		textTurn("all done"),
	}}
	l := NewLoop(LoopOptions{Provider: p, Registry: registry})

	conv := NewConversation()
	conv.AddUser("run all three")
	if _, err := l.Query(context.Background(), conv, nil); err != nil {
		t.Fatalf("Query: %v", err)
	}

	mu.Lock()
	gotOrder := append([]string(nil), order...)
	mu.Unlock()
	want := []string{"alpha", "beta", "gamma"}
	for i := range want {
		if gotOrder[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", gotOrder, want)
		}
	}

	msgs := toolMessages(conv)
	wantIDs := []string{"c1", "c2", "c3"}
	for i := range wantIDs {
		if msgs[i].ToolCallID != wantIDs[i] {
			t.Fatalf("result order = %v, want %v", msgs, wantIDs)
		}
	}
}

// Unknown tool names resolve to error results instead of killing the run.
func TestUnknownToolBecomesErrorResult(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		toolTurn(provider.ToolCall{ID: "c1", Name: "teleport", Arguments: map[string]any{}}),
		textTurn("my mistake"),
	}}
	l := NewLoop(LoopOptions{Provider: p, Registry: tools.NewRegistry()})

	conv := NewConversation()
	conv.AddUser("teleport")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v", res.State)
	}
	msgs := toolMessages(conv)
	if !msgs[0].IsError || !strings.Contains(msgs[0].Content, "tool not found") {
		t.Fatalf("unexpected result for unknown tool: %+v", msgs[0])
	}
}

// A model transport failure surfaces as an error with the partial
// conversation preserved.
func TestFatalModelErrorPreservesConversation(t *testing.T) {
	p := &scriptedProvider{turns: nil} // first call already fails
	l := NewLoop(LoopOptions{Provider: p, Registry: tools.NewRegistry()})

	conv := NewConversation()
	conv.AddUser("hello")
	res, err := l.Query(context.Background(), conv, nil)
	if err == nil {
		t.Fatal("expected model error to propagate")
	}
	if res.State != StateErrored {
		t.Fatalf("state = %v, want Errored", res.State)
	}
	if res.Conversation == nil || res.Conversation.Len() != 1 {
		t.Fatal("partial conversation not preserved")
	}
}

func TestMaxTurnsBoundsTheRun(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "ping", safe: true})

	turns := make([]*provider.ChatResponse, 10)
	for i := range turns {
		turns[i] = toolTurn(provider.ToolCall{ID: "c", Name: "ping", Arguments: map[string]any{}})
	}
	p := &scriptedProvider{turns: turns}
	l := NewLoop(LoopOptions{Provider: p, Registry: registry, MaxTurns: 3})

	conv := NewConversation()
	conv.AddUser("loop forever")
	res, err := l.Query(context.Background(), conv, nil)
	if err == nil {
		t.Fatal("expected max-turns error")
	}
	if res.State != StateErrored {
		t.Fatalf("state = %v", res.State)
	}
	if p.callCount() != 3 {
		t.Fatalf("model called %d times with MaxTurns=3", p.callCount())
	}
}

func TestSubAgentRegistryNeverContainsTaskTool(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "read_file", safe: true})
	registry.Register(&echoTool{name: "write_file", safe: false})
	l := NewLoop(LoopOptions{Provider: &scriptedProvider{}, Registry: registry, Personas: NewPersonaRegistry()})

	for _, name := range l.personas.Names() {
		persona, _ := l.personas.Get(name)
		nested := l.subAgentRegistry(persona)
		if _, ok := nested.Get("task"); ok {
			t.Fatalf("persona %s can reach the task tool", name)
		}
	}
}

func TestSafeModeSubAgentGetsReadOnlyTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "read_file", safe: true})
	registry.Register(&echoTool{name: "write_file", safe: false})
	l := NewLoop(LoopOptions{Provider: &scriptedProvider{}, Registry: registry, SafeMode: true})

	persona, _ := l.personas.Get("general-purpose")
	nested := l.subAgentRegistry(persona)
	if _, ok := nested.Get("write_file"); ok {
		t.Fatal("safe-mode sub-agent can mutate files")
	}
	if _, ok := nested.Get("read_file"); !ok {
		t.Fatal("safe-mode sub-agent lost read-only tools")
	}
}

// A full nested run: the task tool re-enters the loop and the parent gets
// the sub-agent's final text as its tool result.
func TestTaskToolRunsNestedLoop(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		// Parent turn 1: delegate.
		toolTurn(provider.ToolCall{ID: "c1", Name: "task", Arguments: map[string]any{
			"description": "scan repo", "prompt": "count the files", "subagent_type": "explore",
		}}),
		// Nested turn 1: use a read-only tool.
		toolTurn(provider.ToolCall{ID: "n1", Name: "read_file", Arguments: map[string]any{}}),
		// Nested turn 2: final report.
		textTurn("there are 42 files"),
		// Parent turn 2: final answer.
		textTurn("the sub-agent counted 42 files"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "read_file", safe: true})
	l := NewLoop(LoopOptions{Provider: p, Registry: registry})

	conv := NewConversation()
	conv.AddUser("how many files are there?")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v", res.State)
	}
	msgs := toolMessages(conv)
	if len(msgs) != 1 {
		t.Fatalf("parent conversation has %d tool results, want 1", len(msgs))
	}
	if msgs[0].Content != "there are 42 files" {
		t.Fatalf("task result = %q, want the nested final text", msgs[0].Content)
	}
	if res.FinalText != "the sub-agent counted 42 files" {
		t.Fatalf("final text = %q", res.FinalText)
	}
}

// A user abort while a sub-agent waits for approval must end the parent run
// too: no more model calls at any level, parent state Aborted.
func TestAbortInsideNestedRunAbortsParent(t *testing.T) {
	p := &scriptedProvider{turns: []*provider.ChatResponse{
		// Parent turn 1: delegate.
		toolTurn(provider.ToolCall{ID: "c1", Name: "task", Arguments: map[string]any{
			"description": "ship it", "prompt": "deploy the service", "subagent_type": "general-purpose",
		}}),
		// Nested turn 1: a gated call the user aborts on.
		toolTurn(provider.ToolCall{ID: "n1", Name: "deploy", Arguments: map[string]any{}}),
		// Neither loop may get here.
		textTurn("nested never reached"),
		textTurn("parent never reached"),
	}}
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "deploy", safe: false})

	l := NewLoop(LoopOptions{
		Provider:    p,
		Registry:    registry,
		Permissions: permission.NewEngine("/project", true, permission.NewMemoryGrantStore()),
		Approver: approval.ApproverFunc(func(ctx context.Context, req *approval.Request) (approval.Outcome, error) {
			return approval.Abort, nil
		}),
	})

	conv := NewConversation()
	conv.AddUser("deploy via a sub-agent")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.State != StateAborted {
		t.Fatalf("state = %v, want Aborted", res.State)
	}
	if p.callCount() != 2 {
		t.Fatalf("model called %d times, want 2 (abort must stop both loops)", p.callCount())
	}
	msgs := toolMessages(conv)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 tool result in the parent, got %d", len(msgs))
	}
	if !msgs[0].Interrupted {
		t.Fatal("aborted task call not marked interrupted")
	}
	if open := conv.UnresolvedToolCalls(); len(open) != 0 {
		t.Fatalf("dangling tool calls after nested abort: %v", open)
	}
}

// candidateProvider layers scripted multi-candidate turns over the plain
// scripted provider.
type candidateProvider struct {
	scriptedProvider
	candidates []*provider.ChatResponse
	candErr    error
}

func (p *candidateProvider) ChatCandidates(ctx context.Context, req *provider.ChatRequest, n int) ([]*provider.ChatResponse, error) {
	if p.candErr != nil {
		return nil, p.candErr
	}
	return p.candidates, nil
}

// The selector decides which competing completion continues the run.
func TestSelectorPicksAmongCandidates(t *testing.T) {
	p := &candidateProvider{
		candidates: []*provider.ChatResponse{
			textTurn("first draft"),
			textTurn("second draft"),
		},
	}
	l := NewLoop(LoopOptions{
		Provider: p,
		Registry: tools.NewRegistry(),
		Selector: func(ctx context.Context, candidates []*provider.ChatResponse) (*provider.ChatResponse, error) {
			return candidates[len(candidates)-1], nil
		},
	})

	conv := NewConversation()
	conv.AddUser("write a draft")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.FinalText != "second draft" {
		t.Fatalf("final text = %q, want the selected candidate", res.FinalText)
	}
	if p.callCount() != 0 {
		t.Fatalf("single-completion path used despite candidates: %d calls", p.callCount())
	}
}

// A failing candidate request falls back to the single-completion path.
func TestCandidateFailureFallsBackToChat(t *testing.T) {
	p := &candidateProvider{
		scriptedProvider: scriptedProvider{turns: []*provider.ChatResponse{textTurn("plain answer")}},
		candErr:          errors.New("candidates unavailable"),
	}
	selected := false
	l := NewLoop(LoopOptions{
		Provider: p,
		Registry: tools.NewRegistry(),
		Selector: func(ctx context.Context, candidates []*provider.ChatResponse) (*provider.ChatResponse, error) {
			selected = true
			return candidates[0], nil
		},
	})

	conv := NewConversation()
	conv.AddUser("just answer")
	res, err := l.Query(context.Background(), conv, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.FinalText != "plain answer" {
		t.Fatalf("final text = %q, want the fallback completion", res.FinalText)
	}
	if selected {
		t.Fatal("selector consulted although no candidates were produced")
	}
}
