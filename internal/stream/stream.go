// Package stream provides the bounded step-event stream that carries tool
// progress and results from producers to a single consumer.
package stream

import (
	"context"
	"sync"
	"time"
)

// Kind discriminates step events.
type Kind string

const (
	// KindProgress is an intermediate event emitted while a tool call runs.
	KindProgress Kind = "progress"
	// KindResult is the single terminal event of a tool call.
	KindResult Kind = "result"
)

// Event is one step in a tool call's event sequence: zero or more progress
// events followed by exactly one result event.
type Event struct {
	Kind        Kind      `json:"kind"`
	CallID      string    `json:"call_id"`
	ToolName    string    `json:"tool_name"`
	AgentID     string    `json:"agent_id,omitempty"`
	Content     string    `json:"content,omitempty"`
	IsError     bool      `json:"is_error,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stream is a bounded producer/consumer channel for step events. Producers
// block when the buffer is full; emission honors the caller's context so a
// cancelled tool call never wedges on a slow consumer.
type Stream struct {
	events    chan Event
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates a stream with the given buffer size. A non-positive size falls
// back to a small default buffer.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Emit pushes an event, blocking on backpressure until the consumer drains
// the buffer or ctx is cancelled. Emitting on a closed stream is a no-op so
// late producers cannot panic the process. The read lock is held across the
// send so Close cannot close the channel out from under a blocked producer.
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	if s == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the consumer side of the stream.
func (s *Stream) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Close marks the stream closed. Pending buffered events remain readable.
// Closing done first releases producers blocked on a full buffer, so the
// write lock is always acquirable and the channel close never races a send.
func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// Producer stamps events with a fixed call identity so tools only supply
// content. One producer exists per in-flight tool call.
type Producer struct {
	stream   *Stream
	callID   string
	toolName string
	agentID  string
}

// NewProducer binds a stream to one tool call.
func NewProducer(s *Stream, callID, toolName, agentID string) *Producer {
	return &Producer{stream: s, callID: callID, toolName: toolName, agentID: agentID}
}

// Progress emits an intermediate progress event for this call.
func (p *Producer) Progress(ctx context.Context, content string) error {
	if p == nil {
		return nil
	}
	return p.stream.Emit(ctx, Event{
		Kind:     KindProgress,
		CallID:   p.callID,
		ToolName: p.toolName,
		AgentID:  p.agentID,
		Content:  content,
	})
}

// Result emits the terminal event for this call.
func (p *Producer) Result(ctx context.Context, content string, isError, interrupted bool) error {
	if p == nil {
		return nil
	}
	return p.stream.Emit(ctx, Event{
		Kind:        KindResult,
		CallID:      p.callID,
		ToolName:    p.toolName,
		AgentID:     p.agentID,
		Content:     content,
		IsError:     isError,
		Interrupted: interrupted,
	})
}

// CallID returns the call this producer is bound to.
func (p *Producer) CallID() string {
	if p == nil {
		return ""
	}
	return p.callID
}
