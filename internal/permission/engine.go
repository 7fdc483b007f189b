package permission

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/codewright/codewright/internal/shell"
	"github.com/codewright/codewright/internal/tools"
)

// Verdict is the outcome of a permission evaluation.
type Verdict int

const (
	// Allow means the call may run without asking.
	Allow Verdict = iota
	// Ask means a human must approve the call.
	Ask
	// Deny means the call is rejected outright.
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Ask:
		return "ask"
	case Deny:
		return "deny"
	}
	return "unknown"
}

// Decision is the result of evaluating one tool call.
type Decision struct {
	Verdict Verdict
	Reason  string
	// PersistKeys are the grant keys a permanent approval writes to the
	// store. Empty for file-mutating tools.
	PersistKeys []string
	// SessionDir is the directory a file-mutating approval grants in
	// memory for the rest of the session.
	SessionDir string
	// CommandPrefix is the resolved prefix of the first shell sub-command,
	// shown in approval prompts.
	CommandPrefix string
}

// fileMutatingTools never satisfy permission from the persistent store;
// their approvals live only in the session grant set.
var fileMutatingTools = map[string]bool{
	"write_file":    true,
	"edit_file":     true,
	"notebook_edit": true,
}

// IsFileMutating reports whether the named tool's grants are session-only.
func IsFileMutating(name string) bool { return fileMutatingTools[name] }

// Engine evaluates tool calls against the grant store and session state.
// Evaluation is a pure function of (tool, input, store contents, safe mode),
// so re-evaluating the same call against the same state always yields the
// same decision.
type Engine struct {
	// Project is the absolute project path keying the grant store.
	Project string
	// SafeMode gates everything: when false the engine always allows.
	SafeMode bool

	Store   GrantStore
	Session *SessionGrants
	Bash    *BashPolicy
}

// NewEngine creates an engine for the project with default shell policy.
func NewEngine(project string, safeMode bool, store GrantStore) *Engine {
	return &Engine{
		Project:  project,
		SafeMode: safeMode,
		Store:    store,
		Session:  NewSessionGrants(),
		Bash:     NewBashPolicy("bash"),
	}
}

// Evaluate applies the permission policy to one tool call.
func (e *Engine) Evaluate(ctx context.Context, tool tools.Tool, input map[string]any) Decision {
	if !e.SafeMode {
		return Decision{Verdict: Allow, Reason: "permissive mode"}
	}
	if !tool.NeedsPermission(input) {
		return Decision{Verdict: Allow, Reason: "tool needs no permission for this input"}
	}

	if e.Bash != nil && tool.Name() == e.Bash.ToolName {
		return e.evaluateBash(ctx, input)
	}
	if IsFileMutating(tool.Name()) {
		return e.evaluateFileMutation(tool.Name(), input)
	}
	return e.evaluateDefault(tool.Name())
}

func (e *Engine) evaluateBash(ctx context.Context, input map[string]any) Decision {
	command := tools.GetString(input, "command", "")
	grants, err := e.grantSet()
	if err != nil {
		return Decision{Verdict: Ask, Reason: fmt.Sprintf("grant store unavailable: %v", err)}
	}

	decision := Decision{CommandPrefix: e.firstPrefix(ctx, command)}
	allowed, persistKeys, reason := e.Bash.Evaluate(ctx, command, grants)
	if allowed {
		decision.Verdict = Allow
		decision.Reason = reason
		return decision
	}
	decision.Verdict = Ask
	decision.Reason = reason
	decision.PersistKeys = persistKeys
	return decision
}

func (e *Engine) evaluateFileMutation(name string, input map[string]any) Decision {
	path := tools.GetString(input, "path", "")
	if path == "" {
		return Decision{Verdict: Ask, Reason: "no target path in input"}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Decision{Verdict: Ask, Reason: fmt.Sprintf("cannot resolve target path: %v", err)}
	}
	dir := filepath.Dir(abs)
	if e.Session != nil && e.Session.Allows(abs) {
		return Decision{Verdict: Allow, Reason: "session write permission covers target"}
	}
	return Decision{
		Verdict:    Ask,
		Reason:     fmt.Sprintf("%s requires write permission for %s", name, dir),
		SessionDir: dir,
	}
}

func (e *Engine) evaluateDefault(name string) Decision {
	grants, err := e.grantSet()
	if err != nil {
		return Decision{Verdict: Ask, Reason: fmt.Sprintf("grant store unavailable: %v", err)}
	}
	if grants[name] {
		return Decision{Verdict: Allow, Reason: "tool granted for project"}
	}
	return Decision{
		Verdict:     Ask,
		Reason:      fmt.Sprintf("%s is not granted for this project", name),
		PersistKeys: []string{name},
	}
}

// ApplyPermanent records an allow-permanent approval. File-mutating
// decisions only extend the in-memory session set; everything else is
// written to the persistent store.
func (e *Engine) ApplyPermanent(d Decision) error {
	if d.SessionDir != "" {
		if e.Session != nil {
			e.Session.GrantDir(d.SessionDir)
		}
		return nil
	}
	if len(d.PersistKeys) == 0 {
		return nil
	}
	return e.Store.Add(e.Project, d.PersistKeys...)
}

func (e *Engine) grantSet() (map[string]bool, error) {
	keys, err := e.Store.Grants(e.Project)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(keys))
	for _, key := range keys {
		set[key] = true
	}
	return set, nil
}

func (e *Engine) firstPrefix(ctx context.Context, command string) string {
	if e.Bash == nil || e.Bash.Resolver == nil {
		return ""
	}
	subs := shell.SplitCommand(command)
	if len(subs) == 0 {
		return ""
	}
	prefix, err := e.Bash.Resolver.Resolve(ctx, subs[0])
	if err != nil {
		return ""
	}
	return prefix
}
