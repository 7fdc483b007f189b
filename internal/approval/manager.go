// Package approval provides the human approval gate for tool calls that the
// permission engine cannot auto-approve.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codewright/codewright/internal/audit"
)

// Outcome is a human decision on a pending approval.
type Outcome int

const (
	// AllowTemporary permits this one call.
	AllowTemporary Outcome = iota
	// AllowPermanent permits the call and records the grant.
	AllowPermanent
	// Reject refuses the call; the run continues.
	Reject
	// Abort refuses the call and cancels the whole run.
	Abort
)

func (o Outcome) String() string {
	switch o {
	case AllowTemporary:
		return "allow-temporary"
	case AllowPermanent:
		return "allow-permanent"
	case Reject:
		return "reject"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// Request describes one approval prompt.
type Request struct {
	ID            string
	CallID        string
	Tool          string
	Input         map[string]any
	Reason        string
	CommandPrefix string
	CreatedAt     time.Time
}

// Approver presents a request to a human and returns their decision. The
// CLI implements this over stdin; tests implement it directly.
type Approver interface {
	Approve(ctx context.Context, req *Request) (Outcome, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req *Request) (Outcome, error)

func (f ApproverFunc) Approve(ctx context.Context, req *Request) (Outcome, error) {
	return f(ctx, req)
}

// Manager tracks pending approvals: the orchestration loop creates and
// waits, the UI responds. Waiting honors the run's abort signal.
type Manager struct {
	mu      sync.Mutex
	pending map[string]chan Outcome
	audit   *audit.Log

	// Timeout bounds how long a request may stay pending. Zero means wait
	// until the run is aborted. On expiry the request resolves as Reject.
	Timeout time.Duration
}

// NewManager creates an approval manager. The audit log may be nil.
func NewManager(log *audit.Log) *Manager {
	return &Manager{
		pending: make(map[string]chan Outcome),
		audit:   log,
	}
}

// Create registers a request and returns its id.
func (m *Manager) Create(req *Request) string {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()

	ch := make(chan Outcome, 1)
	m.mu.Lock()
	m.pending[req.ID] = ch
	m.mu.Unlock()

	command := req.CommandPrefix
	if cmd, ok := req.Input["command"].(string); ok {
		command = cmd
	}
	m.audit.ApprovalCreated(req.ID, req.CallID, req.Tool, command)
	return req.ID
}

// Wait blocks until the request is responded to or ctx is cancelled.
// Cancellation while waiting resolves the request as Abort.
func (m *Manager) Wait(ctx context.Context, id string) (Outcome, error) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return Abort, fmt.Errorf("no pending approval: %s", id)
	}

	var expired <-chan time.Time
	if m.Timeout > 0 {
		timer := time.NewTimer(m.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case outcome := <-ch:
		m.cleanup(id)
		m.audit.ApprovalResolved(id, outcome.String())
		return outcome, nil
	case <-expired:
		m.cleanup(id)
		m.audit.ApprovalResolved(id, "timeout")
		return Reject, nil
	case <-ctx.Done():
		m.cleanup(id)
		m.audit.ApprovalResolved(id, "abort")
		return Abort, ctx.Err()
	}
}

// Respond delivers the decision for a pending request.
func (m *Manager) Respond(id string, outcome Outcome) error {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval: %s", id)
	}
	select {
	case ch <- outcome:
	default:
	}
	return nil
}

// Resolve runs the full prompt cycle through an Approver: create, ask,
// respond, wait. It returns Abort when ctx is cancelled mid-prompt.
func (m *Manager) Resolve(ctx context.Context, req *Request, approver Approver) (Outcome, error) {
	id := m.Create(req)

	go func() {
		outcome, err := approver.Approve(ctx, req)
		if err != nil {
			outcome = Abort
		}
		_ = m.Respond(id, outcome)
	}()

	return m.Wait(ctx, id)
}

func (m *Manager) cleanup(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
