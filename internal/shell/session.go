// Package shell provides the persistent shell session used by the bash tool.
// One logical session exists per process; commands are serialized, the
// working directory is tracked across calls, and it can never escape the
// project root.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout is the per-command timeout when none is configured.
const DefaultTimeout = 2 * time.Minute

// ErrOutsideRoot is returned when a command tries to move the working
// directory outside the project root.
var ErrOutsideRoot = errors.New("working directory would leave the project root")

// DenyPatterns match commands that are refused outright, before any
// permission evaluation.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`,
	`\brm\s+-rf\b`,
	`\brm\s+-r[fF]?\s+\.\B`,
	`\brm\s+-r[fF]?\s+\*`,
	`\bdd\b.*\bof=/dev/`,
	`\bmkfs\b`,
	`\bfdisk\b`,
	`>\s*/dev/`,
	`\bchmod\s+-R\s+777\s+/`,
	`:\(\)\s*\{\s*:\|:&\s*\};:`,
	`\bshutdown\b`,
	`\breboot\b`,
	`\bhalt\b`,
	`\binit\s+[0-6]\b`,
}

// Output holds the result of one command execution.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Session is a stateful shell scoped to a project root. All commands run
// through one session are serialized; the session's working directory
// persists across calls but is sandboxed to the root.
type Session struct {
	mu      sync.Mutex
	root    string
	cwd     string
	timeout time.Duration
	deny    []*regexp.Regexp
}

// NewSession creates a session rooted at the given directory.
func NewSession(root string, timeout time.Duration) (*Session, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deny := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			deny = append(deny, re)
		}
	}
	return &Session{root: abs, cwd: abs, timeout: timeout, deny: deny}, nil
}

// Root returns the project root the session is sandboxed to.
func (s *Session) Root() string { return s.root }

// Cwd returns the session's current working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// Screen rejects commands matching the deny patterns. It runs before any
// permission evaluation so catastrophic commands never reach the prompt.
func (s *Session) Screen(command string) error {
	for _, re := range s.deny {
		if re.MatchString(command) {
			return fmt.Errorf("command refused by safety screen: matches %q", re.String())
		}
	}
	return nil
}

// Run executes a command in the session. A non-positive timeout uses the
// session default. Cancellation via ctx kills the underlying process.
func (s *Session) Run(ctx context.Context, command string, timeout time.Duration) (*Output, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command is empty")
	}
	if err := s.Screen(command); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWorkingDirectory(command); err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = s.timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The trailing pwd marker lets the session track directory changes made
	// by the command itself.
	const marker = "__CWD_MARKER__"
	wrapped := fmt.Sprintf("%s\n__status=$?\necho %s$(pwd)\nexit $__status", command, marker)

	cmd := exec.CommandContext(runCtx, "sh", "-c", wrapped)
	cmd.Dir = s.cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	out := &Output{
		Stdout: s.consumeMarker(stdout.String(), marker),
		Stderr: stderr.String(),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		return out, nil
	}
	if ctx.Err() != nil {
		// Parent abort, not a per-call timeout.
		return out, ctx.Err()
	}
	if runErr != nil && out.ExitCode == 0 {
		return nil, fmt.Errorf("execute command: %w", runErr)
	}
	return out, nil
}

// consumeMarker strips the cwd marker line from stdout and records the
// directory the command finished in.
func (s *Session) consumeMarker(stdout, marker string) string {
	idx := strings.LastIndex(stdout, marker)
	if idx < 0 {
		return stdout
	}
	rest := strings.TrimSpace(stdout[idx+len(marker):])
	if rest != "" && s.within(rest) {
		s.cwd = rest
	}
	cleaned := stdout[:idx]
	return strings.TrimSuffix(cleaned, "\n")
}

// checkWorkingDirectory rejects cd targets outside the root before the
// command runs.
func (s *Session) checkWorkingDirectory(command string) error {
	for _, sub := range SplitCommand(command) {
		fields := strings.Fields(sub)
		if len(fields) == 0 || fields[0] != "cd" {
			continue
		}
		target := s.root
		if len(fields) > 1 {
			target = fields[1]
		}
		target = strings.Trim(target, `"'`)
		if !filepath.IsAbs(target) {
			target = filepath.Join(s.cwd, target)
		}
		target = filepath.Clean(target)
		if !s.within(target) {
			return fmt.Errorf("%w: cd %s", ErrOutsideRoot, target)
		}
	}
	return nil
}

func (s *Session) within(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// SplitCommand decomposes a compound shell command on the operators
// `;`, `&&`, `||` and `|` into its sub-commands.
func SplitCommand(command string) []string {
	var (
		parts   []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if sub := strings.TrimSpace(current.String()); sub != "" {
			parts = append(parts, sub)
		}
		current.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ';':
			flush()
		case r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			i++
		case r == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return parts
}
