// Package executor runs permission-cleared tool calls and turns their
// output into step events and terminal results.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codewright/codewright/internal/audit"
	"github.com/codewright/codewright/internal/stream"
	"github.com/codewright/codewright/internal/tools"
)

// terminalEventTimeout bounds the best-effort emit of a call's result event.
const terminalEventTimeout = 2 * time.Second

// Call is one pending, already-cleared tool call from a model turn.
type Call struct {
	ID    string
	Tool  tools.Tool
	Input map[string]any
}

// CallResult is the terminal outcome of one call. Every call gets exactly
// one, whatever happens, so tool_use blocks are never left unresolved.
type CallResult struct {
	CallID      string
	ToolName    string
	Result      *tools.Result
	IsError     bool
	Rejected    bool
	Interrupted bool
}

// RejectedResult synthesizes the terminal result for a call the user or
// the permission engine refused.
func RejectedResult(callID, toolName, reason string) CallResult {
	return CallResult{
		CallID:   callID,
		ToolName: toolName,
		Result:   &tools.Result{Data: reason, ForAssistant: "Permission denied: " + reason},
		IsError:  true,
		Rejected: true,
	}
}

// ForAssistant returns the text fed back into the model's context.
func (r *CallResult) ForAssistant() string {
	if r.Interrupted {
		return "Tool call was interrupted before completion."
	}
	if r.Result != nil {
		return r.Result.ForAssistant
	}
	return ""
}

// InterruptedResult synthesizes the terminal result for a call that was
// aborted before its tool produced anything.
func InterruptedResult(callID, toolName string) CallResult {
	return CallResult{
		CallID:      callID,
		ToolName:    toolName,
		IsError:     true,
		Interrupted: true,
	}
}

// Executor executes batches of tool calls from a single model turn.
type Executor struct {
	// Events receives progress and result events as they are produced.
	Events  *stream.Stream
	AgentID string
	Audit   *audit.Log
	Logger  *slog.Logger
}

// New creates an executor emitting onto the given stream.
func New(events *stream.Stream, agentID string) *Executor {
	return &Executor{Events: events, AgentID: agentID, Logger: slog.Default()}
}

// ExecuteBatch runs the calls of one model turn and returns a result per
// call, in request order. When every call is concurrency-safe the calls run
// concurrently; a single unsafe call forces the whole batch sequential.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	if allConcurrencySafe(calls) {
		g, gctx := errgroup.WithContext(ctx)
		for i, call := range calls {
			g.Go(func() error {
				results[i] = e.executeOne(gctx, call)
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	// Any unsafe call forces the whole batch into request order. After an
	// abort the remaining calls still pass through executeOne so each gets
	// its interrupted result.
	for i, call := range calls {
		results[i] = e.executeOne(ctx, call)
	}
	return results
}

func allConcurrencySafe(calls []Call) bool {
	for _, call := range calls {
		if !call.Tool.IsConcurrencySafe() {
			return false
		}
	}
	return true
}

// executeOne runs a single call. Tool panics and errors are converted to
// error-shaped results; cancellation yields an interrupted result.
func (e *Executor) executeOne(ctx context.Context, call Call) (out CallResult) {
	producer := stream.NewProducer(e.Events, call.ID, call.Tool.Name(), e.AgentID)
	started := time.Now()
	rowID := e.Audit.ToolCallStarted(call.ID, e.AgentID, call.Tool.Name())

	defer func() {
		if rec := recover(); rec != nil {
			e.logger().Error("tool panicked", "tool", call.Tool.Name(), "call_id", call.ID, "panic", rec)
			out = e.errorResult(call, fmt.Sprintf("tool %s panicked: %v", call.Tool.Name(), rec))
		}
		status := "success"
		switch {
		case out.Interrupted:
			status = "interrupted"
		case out.IsError:
			status = "error"
		}
		e.Audit.ToolCallFinished(rowID, status, out.ForAssistant(), started)
		// The terminal event must survive run cancellation, but it may not
		// wedge an aborted run behind a consumer that stopped draining.
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalEventTimeout)
		producer.Result(emitCtx, out.ForAssistant(), out.IsError, out.Interrupted)
		cancel()
	}()

	if ctx.Err() != nil {
		return InterruptedResult(call.ID, call.Tool.Name())
	}

	result, err := call.Tool.Call(ctx, call.Input, producer)
	if err != nil {
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return InterruptedResult(call.ID, call.Tool.Name())
		}
		e.logger().Warn("tool call failed", "tool", call.Tool.Name(), "call_id", call.ID, "error", err)
		return e.errorResult(call, err.Error())
	}
	if result == nil {
		return e.errorResult(call, fmt.Sprintf("tool %s returned no result", call.Tool.Name()))
	}
	return CallResult{CallID: call.ID, ToolName: call.Tool.Name(), Result: result}
}

func (e *Executor) errorResult(call Call, message string) CallResult {
	return CallResult{
		CallID:   call.ID,
		ToolName: call.Tool.Name(),
		Result:   &tools.Result{Data: message, ForAssistant: "Error: " + message},
		IsError:  true,
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
