package agent

import (
	"testing"

	"github.com/codewright/codewright/internal/provider"
)

func TestUnresolvedToolCallsTracking(t *testing.T) {
	c := NewConversation()
	c.AddUser("hi")
	c.AddAssistant("", []provider.ToolCall{
		{ID: "c1", Name: "read_file"},
		{ID: "c2", Name: "bash"},
	})

	open := c.UnresolvedToolCalls()
	if len(open) != 2 {
		t.Fatalf("expected 2 unresolved calls, got %d", len(open))
	}

	c.AddToolResult("c1", "read_file", "contents", false, false, false)
	open = c.UnresolvedToolCalls()
	if len(open) != 1 || open[0].ID != "c2" {
		t.Fatalf("unexpected unresolved calls: %v", open)
	}

	c.AddToolResult("c2", "bash", "", true, false, true)
	if open := c.UnresolvedToolCalls(); len(open) != 0 {
		t.Fatalf("calls still unresolved: %v", open)
	}
}

func TestProgressNotesStayLocal(t *testing.T) {
	c := NewConversation()
	c.AddUser("hi")
	c.AddProgress("sub-agent is working")
	c.AddAssistant("done", nil)

	for _, m := range c.ModelMessages() {
		if m.Content == "sub-agent is working" {
			t.Fatal("progress note leaked into model context")
		}
	}
	if c.Len() != 3 {
		t.Fatalf("history length = %d, want 3", c.Len())
	}
}

func TestMessagesGetStableIDs(t *testing.T) {
	c := NewConversation()
	a := c.AddUser("one")
	b := c.AddUser("two")
	if a == "" || b == "" || a == b {
		t.Fatalf("message ids not unique: %q %q", a, b)
	}
}

func TestLastAssistantText(t *testing.T) {
	c := NewConversation()
	c.AddUser("q")
	c.AddAssistant("", []provider.ToolCall{{ID: "c1", Name: "bash"}})
	c.AddToolResult("c1", "bash", "ok", false, false, false)
	c.AddAssistant("final answer", nil)

	if got := c.LastAssistantText(); got != "final answer" {
		t.Fatalf("LastAssistantText = %q", got)
	}
}
