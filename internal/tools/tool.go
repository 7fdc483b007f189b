// Package tools provides the tool contract and built-in tool implementations
// for the agent.
package tools

import (
	"context"

	"github.com/codewright/codewright/internal/stream"
)

// Tool is the interface every agent tool implements.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() map[string]any
	// IsReadOnly reports whether the tool never mutates external state.
	IsReadOnly() bool
	// IsConcurrencySafe reports whether the tool may run in parallel with
	// other calls from the same model turn.
	IsConcurrencySafe() bool
	// NeedsPermission reports whether this particular call must pass
	// permission evaluation before running.
	NeedsPermission(input map[string]any) bool
	// Call executes the tool. Progress is pushed through the producer;
	// the returned Result is the single terminal outcome. A non-nil error
	// means the tool itself failed and is converted to an error result
	// by the executor.
	Call(ctx context.Context, input map[string]any, p *stream.Producer) (*Result, error)
}

// InputValidator is an optional interface for tools that perform semantic
// pre-flight checks beyond schema validation.
type InputValidator interface {
	ValidateInput(input map[string]any) error
}

// Result is the terminal outcome of one tool call.
type Result struct {
	// Data is the structured payload for local rendering.
	Data any
	// ForAssistant is the text injected back into the model's context.
	ForAssistant string
}

// TextResult builds a plain-text result where both forms are the same string.
func TextResult(text string) *Result {
	return &Result{Data: text, ForAssistant: text}
}

// GetString extracts a string parameter with a default value.
func GetString(input map[string]any, key string, defaultVal string) string {
	if v, ok := input[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(input map[string]any, key string, defaultVal int) int {
	if v, ok := input[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(input map[string]any, key string, defaultVal bool) bool {
	if v, ok := input[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
