package permission

import (
	"context"
	"fmt"
	"strings"

	"github.com/codewright/codewright/internal/shell"
)

// PrefixResolver computes the canonical grant prefix for one shell
// sub-command, e.g. "git commit" for `git commit -m "x"`. Implementations
// may be slow or remote; an error or cancellation means the caller must
// fail closed and ask the user.
type PrefixResolver interface {
	Resolve(ctx context.Context, command string) (string, error)
}

// multiWordCommands are commands whose first argument selects a
// sub-command, so the grant prefix spans two tokens.
var multiWordCommands = map[string]bool{
	"git": true, "go": true, "npm": true, "pnpm": true, "yarn": true,
	"docker": true, "kubectl": true, "cargo": true, "pip": true,
	"pip3": true, "apt": true, "apt-get": true, "brew": true,
	"systemctl": true,
}

// ShellPrefixResolver is the deterministic resolver: the prefix is the
// first token, or the first two tokens for known multi-word commands.
type ShellPrefixResolver struct{}

func (ShellPrefixResolver) Resolve(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}
	if multiWordCommands[fields[0]] && len(fields) > 1 && !strings.HasPrefix(fields[1], "-") {
		return fields[0] + " " + fields[1], nil
	}
	return fields[0], nil
}

// safeReadOnlyCommands auto-approve without any grant. All of them are
// side-effect free against the project.
var safeReadOnlyCommands = map[string]bool{
	"pwd": true, "ls": true, "whoami": true, "date": true, "true": true,
	"git status": true, "git diff": true, "git log": true,
	"git branch": true, "git show": true, "git remote": true,
}

// injectionMarkers flag sub-commands whose arguments can smuggle a second
// command past a prefix grant. Such commands only auto-approve on an exact
// full-string grant.
var injectionMarkers = []string{"$(", "`", "${", "\n", "$IFS"}

// HasInjectionRisk reports whether the sub-command contains an injection
// pattern.
func HasInjectionRisk(command string) bool {
	for _, marker := range injectionMarkers {
		if strings.Contains(command, marker) {
			return true
		}
	}
	return false
}

// isSafeReadOnly checks the built-in allow-list. Matching is on the
// resolved one- or two-token form so `git status -sb` still passes.
func isSafeReadOnly(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	if safeReadOnlyCommands[fields[0]] {
		return true
	}
	if len(fields) > 1 {
		return safeReadOnlyCommands[fields[0]+" "+fields[1]]
	}
	return false
}

// BashPolicy evaluates shell commands against the grant store.
type BashPolicy struct {
	Resolver PrefixResolver
	ToolName string
}

// NewBashPolicy creates a policy for the named shell tool using the
// deterministic prefix resolver.
func NewBashPolicy(toolName string) *BashPolicy {
	return &BashPolicy{Resolver: ShellPrefixResolver{}, ToolName: toolName}
}

// Evaluate decides one compound command. Every sub-command must pass
// independently for the whole command to auto-approve. The returned keys
// are what a permanent approval should persist.
func (p *BashPolicy) Evaluate(ctx context.Context, command string, grants map[string]bool) (allowed bool, persistKeys []string, reason string) {
	subs := shell.SplitCommand(command)
	if len(subs) == 0 {
		return false, nil, "empty command"
	}

	allowed = true
	for _, sub := range subs {
		ok, key, why := p.evaluateSub(ctx, sub, grants)
		if !ok {
			allowed = false
			if reason == "" {
				reason = why
			}
		}
		if key != "" {
			persistKeys = append(persistKeys, key)
		}
	}
	if allowed {
		return true, nil, "all sub-commands approved"
	}
	return false, persistKeys, reason
}

// evaluateSub checks one sub-command. It returns whether it auto-approves,
// the grant key a permanent approval should persist for it, and a reason
// when it does not approve.
func (p *BashPolicy) evaluateSub(ctx context.Context, sub string, grants map[string]bool) (bool, string, string) {
	exactKey := fmt.Sprintf("%s(%s)", p.ToolName, sub)

	if HasInjectionRisk(sub) {
		// Prefix grants never cover injection-risk commands.
		if grants[exactKey] {
			return true, "", ""
		}
		return false, exactKey, fmt.Sprintf("possible command injection in %q, exact approval required", sub)
	}
	if isSafeReadOnly(sub) {
		return true, "", ""
	}
	if grants[exactKey] {
		return true, "", ""
	}

	prefix, err := p.Resolver.Resolve(ctx, sub)
	if err != nil {
		// Fail closed. Persist only the exact command if approved.
		return false, exactKey, fmt.Sprintf("could not determine command prefix for %q", sub)
	}
	prefixKey := fmt.Sprintf("%s(%s:*)", p.ToolName, prefix)
	if grants[prefixKey] {
		return true, "", ""
	}
	return false, prefixKey, fmt.Sprintf("no grant covers %q", sub)
}
