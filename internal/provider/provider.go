// Package provider defines the model completion capability consumed by the
// orchestration loop. The wire protocol behind it is deliberately opaque.
package provider

import (
	"context"
)

// ModelProvider is the interface for model completion backends.
type ModelProvider interface {
	// Chat sends a completion request and returns one assistant turn. The
	// request context carries the shared abort signal; implementations must
	// stop promptly when it fires.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// CandidateProvider is an optional interface for backends that can produce
// multiple competing completions for the same turn. The orchestration loop
// resolves which candidate continues the conversation via its selector hook.
type CandidateProvider interface {
	ChatCandidates(ctx context.Context, req *ChatRequest, n int) ([]*ChatResponse, error)
}

// ChatRequest contains the parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	Tools       []ToolDefinition
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains one assistant turn: text and/or tool-call requests.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Message represents a chat message in provider wire form.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition defines a tool exposed to the model.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage contains token usage information for one turn.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
