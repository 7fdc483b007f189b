package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codewright/codewright/internal/agent"
	"github.com/codewright/codewright/internal/approval"
	"github.com/codewright/codewright/internal/audit"
	"github.com/codewright/codewright/internal/config"
	"github.com/codewright/codewright/internal/permission"
	"github.com/codewright/codewright/internal/provider"
	"github.com/codewright/codewright/internal/shell"
	"github.com/codewright/codewright/internal/stream"
	"github.com/codewright/codewright/internal/tools"
)

var (
	runPrompt   string
	runSafeMode bool
	runModel    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent on a prompt against the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := runPrompt
		if prompt == "" && len(args) > 0 {
			prompt = strings.Join(args, " ")
		}
		if prompt == "" {
			return fmt.Errorf("a prompt is required, e.g. codewright run \"fix the failing test\"")
		}
		return runAgent(cmd.Context(), prompt)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "the task for the agent")
	runCmd.Flags().BoolVar(&runSafeMode, "safe", true, "gate mutating tool calls behind approval")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "override the configured model")
}

func runAgent(parent context.Context, prompt string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Model.Name = runModel
	}
	cfg.Security.SafeMode = runSafeMode

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditLog, err := audit.Open(cfg.Paths.AuditDB)
	if err != nil {
		slog.Warn("audit log unavailable, continuing without it", "error", err)
		auditLog = nil
	}
	defer auditLog.Close()

	session, err := shell.NewSession(cfg.Paths.Project, cfg.Tools.ShellTimeout)
	if err != nil {
		return err
	}

	timestamps := tools.NewFileTimestamps()
	registry := tools.NewRegistry()
	registry.Register(&tools.ReadFileTool{Timestamps: timestamps})
	registry.Register(&tools.WriteFileTool{Root: cfg.Paths.Project, Timestamps: timestamps})
	registry.Register(&tools.EditFileTool{Root: cfg.Paths.Project, Timestamps: timestamps})
	registry.Register(&tools.ListDirTool{})
	registry.Register(&tools.GlobTool{Root: cfg.Paths.Project})
	registry.Register(&tools.GrepTool{Root: cfg.Paths.Project})
	registry.Register(&tools.NotebookEditTool{Root: cfg.Paths.Project, Timestamps: timestamps})
	registry.Register(&tools.BashTool{Session: session})
	if len(cfg.Tools.Exclude) > 0 {
		registry = registry.Filter(nil, cfg.Tools.Exclude)
	}

	events := stream.New(256)
	engine := permission.NewEngine(cfg.Paths.Project, cfg.Security.SafeMode, permission.NewFileGrantStore(cfg.Paths.GrantsFile))
	approvals := approval.NewManager(auditLog)
	approvals.Timeout = cfg.Security.ApprovalTimeout

	loop := agent.NewLoop(agent.LoopOptions{
		Provider:     provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Model.Name),
		Registry:     registry,
		Permissions:  engine,
		Approver:     &stdinApprover{},
		Approvals:    approvals,
		Events:       events,
		Audit:        auditLog,
		Personas:     agent.NewPersonaRegistry(),
		Model:        cfg.Model.Name,
		SystemPrompt: systemPrompt(cfg.Paths.Project),
		MaxTurns:     cfg.Model.MaxTurns,
		SafeMode:     cfg.Security.SafeMode,
	})

	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderEvents(events)
	}()

	conv := agent.NewConversation()
	conv.AddUser(prompt)
	rc := agent.NewRunContext(registry, cfg.Security.SafeMode)

	res, err := loop.Query(ctx, conv, rc)
	events.Close()
	<-rendered
	if err != nil {
		return err
	}

	switch res.State {
	case agent.StateAborted:
		color.Yellow("\nrun aborted")
	case agent.StateDone:
		fmt.Println()
		fmt.Println(res.FinalText)
	}
	return nil
}

func systemPrompt(project string) string {
	return fmt.Sprintf(
		"You are codewright, a coding agent working in the project at %s. "+
			"Use the available tools to inspect and change the project. "+
			"Prefer small, verifiable steps and report what you did.", project)
}

// renderEvents prints the live step events. Rejected and errored results
// are rendered distinctly from successful ones.
func renderEvents(events *stream.Stream) {
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	green := color.New(color.FgGreen)

	for ev := range events.Events() {
		switch ev.Kind {
		case stream.KindProgress:
			dim.Printf("  %s: %s\n", ev.ToolName, firstLine(ev.Content))
		case stream.KindResult:
			switch {
			case ev.Interrupted:
				yellow.Printf("  %s interrupted\n", ev.ToolName)
			case ev.IsError:
				red.Printf("  %s failed: %s\n", ev.ToolName, firstLine(ev.Content))
			default:
				green.Printf("  %s ok\n", ev.ToolName)
			}
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// stdinApprover prompts on the terminal for tool approvals.
type stdinApprover struct{}

func (a *stdinApprover) Approve(ctx context.Context, req *approval.Request) (approval.Outcome, error) {
	bold := color.New(color.Bold)
	bold.Printf("\nApproval needed: %s\n", req.Tool)
	if cmd, ok := req.Input["command"].(string); ok {
		fmt.Printf("  command: %s\n", cmd)
	} else if path, ok := req.Input["path"].(string); ok {
		fmt.Printf("  path: %s\n", path)
	}
	if req.Reason != "" {
		fmt.Printf("  reason: %s\n", req.Reason)
	}
	fmt.Print("  [y]es once / [a]lways / [n]o / [q]uit: ")

	answers := make(chan string, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		answers <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return approval.Abort, ctx.Err()
	case answer := <-answers:
		switch answer {
		case "y", "yes":
			return approval.AllowTemporary, nil
		case "a", "always":
			return approval.AllowPermanent, nil
		case "q", "quit":
			return approval.Abort, nil
		default:
			return approval.Reject, nil
		}
	}
}
