// Package agent implements the orchestration loop that drives a model to
// completion across tool-calling turns.
package agent

import (
	"github.com/google/uuid"

	"github.com/codewright/codewright/internal/provider"
)

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleProgress marks local-only progress notes that are never sent to
	// the model.
	RoleProgress Role = "progress"
)

// Message is one entry in a conversation.
type Message struct {
	ID      string
	Role    Role
	Content string
	// ToolCalls holds the tool-call requests of an assistant message.
	ToolCalls []provider.ToolCall
	// ToolCallID links a tool message to the assistant request it answers.
	ToolCallID  string
	ToolName    string
	IsError     bool
	Rejected    bool
	Interrupted bool
}

// Conversation is the ordered message history of one agent run. It is
// owned by a single loop invocation and not safe for concurrent mutation.
type Conversation struct {
	messages []Message
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// AddUser appends a user message and returns its id.
func (c *Conversation) AddUser(text string) string {
	return c.append(Message{Role: RoleUser, Content: text})
}

// AddAssistant appends a model turn.
func (c *Conversation) AddAssistant(text string, toolCalls []provider.ToolCall) string {
	return c.append(Message{Role: RoleAssistant, Content: text, ToolCalls: toolCalls})
}

// AddToolResult appends the terminal result for one tool call.
func (c *Conversation) AddToolResult(callID, toolName, content string, isError, rejected, interrupted bool) string {
	return c.append(Message{
		Role:        RoleTool,
		ToolCallID:  callID,
		ToolName:    toolName,
		Content:     content,
		IsError:     isError,
		Rejected:    rejected,
		Interrupted: interrupted,
	})
}

// AddProgress appends a local-only progress note.
func (c *Conversation) AddProgress(text string) string {
	return c.append(Message{Role: RoleProgress, Content: text})
}

func (c *Conversation) append(m Message) string {
	m.ID = uuid.NewString()
	c.messages = append(c.messages, m)
	return m.ID
}

// Messages returns a copy of the full history, progress notes included.
func (c *Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.messages) }

// ModelMessages renders the history in the provider's wire form, skipping
// local-only progress notes.
func (c *Conversation) ModelMessages() []provider.Message {
	out := make([]provider.Message, 0, len(c.messages))
	for _, m := range c.messages {
		switch m.Role {
		case RoleProgress:
			continue
		case RoleTool:
			content := m.Content
			if m.IsError && content == "" {
				content = "Error: tool call failed"
			}
			out = append(out, provider.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: m.ToolCallID,
			})
		default:
			out = append(out, provider.Message{
				Role:      string(m.Role),
				Content:   m.Content,
				ToolCalls: m.ToolCalls,
			})
		}
	}
	return out
}

// UnresolvedToolCalls returns the tool calls that have no tool result yet,
// in request order.
func (c *Conversation) UnresolvedToolCalls() []provider.ToolCall {
	resolved := map[string]bool{}
	for _, m := range c.messages {
		if m.Role == RoleTool && m.ToolCallID != "" {
			resolved[m.ToolCallID] = true
		}
	}
	var open []provider.ToolCall
	for _, m := range c.messages {
		if m.Role != RoleAssistant {
			continue
		}
		for _, call := range m.ToolCalls {
			if !resolved[call.ID] {
				open = append(open, call)
			}
		}
	}
	return open
}

// LastAssistantText returns the text of the most recent assistant message.
func (c *Conversation) LastAssistantText() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleAssistant && c.messages[i].Content != "" {
			return c.messages[i].Content
		}
	}
	return ""
}
