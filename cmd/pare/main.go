// Command pare is a terminal coding agent tuned for small context windows:
// it drives an OpenAI-compatible model through a tool loop with proactive
// context compression so small open-weight models stay effective.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nstogner/pare/pkg/agent"
	"github.com/nstogner/pare/pkg/budget"
	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/config"
	"github.com/nstogner/pare/pkg/gitctx"
	"github.com/nstogner/pare/pkg/hooks"
	"github.com/nstogner/pare/pkg/mcp"
	"github.com/nstogner/pare/pkg/mech"
	"github.com/nstogner/pare/pkg/model/openai"
	"github.com/nstogner/pare/pkg/plan"
	"github.com/nstogner/pare/pkg/sessions"
	"github.com/nstogner/pare/pkg/telemetry"
	"github.com/nstogner/pare/pkg/tools"
	"github.com/nstogner/pare/pkg/tui"
	"github.com/nstogner/pare/pkg/update"
)

// Exit codes: 0 success, 1 general failure, 2 config error, 130 cancelled.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)

type flags struct {
	profile     string
	dryRun      bool
	verbose     bool
	initConfig  bool
	quick       bool
	mechanical  bool
	planMode    bool
	selfUpdate  bool
	completions string
	mcpServe    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var f flags

	root := &cobra.Command{
		Use:   "pare [TASK]",
		Short: "A small-context terminal coding agent",
		Long: "pare drives an OpenAI-compatible model through a tool-using loop with\n" +
			"proactive context compression, so small open-weight models succeed where\n" +
			"larger agents fail.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, f, strings.Join(args, " "))
		},
	}

	root.Flags().StringVar(&f.profile, "profile", "", "config profile to use")
	root.Flags().BoolVar(&f.dryRun, "dry-run", false, "plan tool calls without dispatching them")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "verbose logging")
	root.Flags().BoolVar(&f.initConfig, "init", false, "write the default config file and exit")
	root.Flags().BoolVar(&f.quick, "quick", false, "quick mode: one model call, at most one tool call")
	root.Flags().BoolVar(&f.mechanical, "mechanical", false, "pattern substitution without the model (s/old/new/)")
	root.Flags().BoolVar(&f.planMode, "plan", false, "generate and execute a reviewed multi-step plan")
	root.Flags().BoolVar(&f.selfUpdate, "update", false, "self-update to the latest release")
	root.Flags().StringVar(&f.completions, "completions", "", "emit shell completion script (bash|zsh|fish|powershell)")
	root.Flags().BoolVar(&f.mcpServe, "mcp", false, "act as an MCP server on stdio instead of running the TUI")

	// Malformed or unknown flags are usage errors.
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitWith(exitConfig, err)
	})

	if err := root.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitFailure
	}
	return exitOK
}

// exitError carries a specific exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func exitWith(code int, err error) error { return &exitError{code: code, err: err} }

func runRoot(cmd *cobra.Command, f flags, task string) error {
	setupLogging(f.verbose)

	if f.completions != "" {
		return emitCompletions(cmd, f.completions)
	}
	if f.initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			return exitWith(exitConfig, err)
		}
		fmt.Println("wrote", path)
		return nil
	}
	if f.selfUpdate {
		if err := update.Run(); err != nil {
			return exitWith(exitFailure, fmt.Errorf("update failed: %w", err))
		}
		fmt.Println("updated to the latest release")
		return nil
	}

	cfgFile, err := config.Load()
	if err != nil {
		return exitWith(exitConfig, err)
	}
	cfg, err := cfgFile.Resolve(f.profile)
	if err != nil {
		return exitWith(exitConfig, err)
	}

	if f.mechanical {
		if task == "" {
			return exitWith(exitConfig, fmt.Errorf("--mechanical requires a task like 's/old/new/'"))
		}
		mt, err := mech.Parse(task)
		if err != nil {
			return exitWith(exitConfig, err)
		}
		res, err := mech.Run(".", mt)
		if err != nil {
			return exitWith(exitFailure, err)
		}
		fmt.Printf("%d replacements across %d files\n", res.Replacements, res.FilesChanged)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg, f)
	if err != nil {
		return exitWith(exitFailure, err)
	}
	defer app.close(ctx)

	if f.mcpServe {
		server := mcp.NewServer(app.registry)
		if err := server.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
			return exitWith(exitFailure, err)
		}
		return nil
	}

	switch {
	case f.planMode:
		if task == "" {
			return exitWith(exitConfig, fmt.Errorf("--plan requires a task"))
		}
		err = app.runPlan(ctx, task)
	case task != "":
		err = app.runHeadless(ctx, task, f.quick)
	default:
		err = app.runTUI(ctx)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return exitWith(exitCancelled, nil)
		}
		return exitWith(exitFailure, err)
	}
	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func emitCompletions(cmd *cobra.Command, shell string) error {
	switch shell {
	case "bash":
		return cmd.Root().GenBashCompletionV2(os.Stdout, true)
	case "zsh":
		return cmd.Root().GenZshCompletion(os.Stdout)
	case "fish":
		return cmd.Root().GenFishCompletion(os.Stdout, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
	default:
		return exitWith(exitConfig, fmt.Errorf("unknown shell %q", shell))
	}
}

// app wires the process-wide state: config, cache, registry, MCP client.
type app struct {
	cfg      *config.Resolved
	flags    flags
	cache    *cache.Cache
	registry *tools.Registry
	external *mcp.Client
	provider *openai.Client
	hookCfg  hooks.Config
	hooksOn  bool
}

func newApp(ctx context.Context, cfg *config.Resolved, f flags) (*app, error) {
	c := cache.New()

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFile(c))
	registry.Register(tools.NewWriteFile(c))
	registry.Register(tools.NewEditFile(c))
	registry.Register(tools.NewPatchFile(c))
	registry.Register(tools.NewBash(c))
	registry.Register(tools.NewSearch())
	registry.Register(tools.NewListFiles())
	registry.Register(tools.NewRecall())

	hookCfg := cfg.Hooks
	if hookCfg.IsEmpty() && !cfg.HooksDisabled {
		hookCfg = hooks.Detect()
		if !hookCfg.IsEmpty() {
			slog.Info("Auto-detected hooks", "hooks", hookCfg.Summary())
		}
	}

	a := &app{
		cfg:      cfg,
		flags:    f,
		cache:    c,
		registry: registry,
		provider: openai.New(cfg.Endpoint, cfg.APIKey),
		hookCfg:  hookCfg,
		hooksOn:  !cfg.HooksDisabled,
	}
	if len(cfg.MCPServers) > 0 {
		a.external = mcp.Connect(ctx, cfg.MCPServers)
	}

	if a.hooksOn {
		for _, cmd := range hookCfg.OnSessionStart {
			hooks.Run(ctx, cmd)
		}
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.hooksOn {
		for _, cmd := range a.hookCfg.OnSessionEnd {
			hooks.Run(ctx, cmd)
		}
	}
	if a.external != nil {
		a.external.Close()
	}
}

func (a *app) agentConfig(maxToolCalls int) agent.Config {
	return agent.Config{
		Model:         a.cfg.Model,
		ContextTokens: a.cfg.ContextTokens,
		Root:          ".",
		Verbose:       a.flags.verbose,
		DryRun:        a.flags.dryRun,
		MaxToolCalls:  maxToolCalls,
		Hooks:         a.hookCfg,
		HooksEnabled:  a.hooksOn,
	}
}

// externalTools returns a nil interface (not a typed nil) when no servers are up.
func (a *app) externalTools() agent.ExternalTools {
	if a.external == nil {
		return nil
	}
	return a.external
}

func (a *app) preamble(ctx context.Context) *budget.Preamble {
	pre := &budget.Preamble{
		Conventions: loadConventions("."),
	}
	if a.cfg.GitContext {
		pre.GitStatus = gitctx.Status(ctx)
	}
	return pre
}

// runHeadless executes a single task and prints events to stdout.
func (a *app) runHeadless(ctx context.Context, task string, quick bool) error {
	emit := func(ev agent.Event) {
		switch ev := ev.(type) {
		case agent.TextChunk:
			fmt.Print(ev.Text)
		case agent.ToolCallEvent:
			fmt.Printf("\n→ %s(%s)\n", ev.Name, ev.ArgsSummary)
		case agent.ToolResultEvent:
			fmt.Printf("  %s\n", ev.Summary)
		case agent.Done:
			fmt.Printf("\n── %d tool calls · %d in / %d out tokens ──\n",
				ev.Stats.ToolCalls, ev.Stats.InputTokens, ev.Stats.OutputTokens)
		}
	}

	loop := agent.New(a.provider, a.registry, a.cache, a.externalTools(), emit, a.agentConfig(0))

	if a.cfg.GitContext {
		if hash := gitctx.Checkpoint(ctx); hash != "" {
			slog.Debug("Pre-task checkpoint", "head", hash)
		}
	}

	var result *agent.Result
	var err error
	if quick {
		result, err = loop.RunQuick(ctx, task)
	} else {
		result, err = loop.Run(ctx, task, a.preamble(ctx))
	}
	if err != nil {
		return err
	}

	a.finishTask(ctx, task, result)
	return nil
}

// finishTask persists session history and telemetry and runs auto-commit.
func (a *app) finishTask(ctx context.Context, task string, result *agent.Result) {
	cwd, _ := os.Getwd()
	project := filepath.Base(cwd)

	if len(result.Messages) > 0 {
		if sess, err := sessions.New(project, a.cfg.ProfileName, a.cfg.Model); err == nil {
			sess.AppendAll(result.Messages)
			sess.Close()
		} else {
			slog.Debug("Session persistence skipped", "error", err)
		}
	}

	telemetry.Append(".", telemetry.TaskRecord{
		Cwd:             project,
		TaskPreview:     task,
		InputTokens:     result.Stats.InputTokens,
		OutputTokens:    result.Stats.OutputTokens,
		ToolCalls:       result.Stats.ToolCalls,
		CompressedCount: result.Stats.CompressedCount,
		DurationSecs:    result.Stats.DurationSecs,
		Model:           a.cfg.Model,
		Profile:         a.cfg.ProfileName,
	})

	if a.cfg.AutoCommit {
		if hash, err := gitctx.AutoCommit(ctx, a.cfg.AutoCommitPrefix, taskPreview(task)); err != nil {
			slog.Warn("Auto-commit failed", "error", err)
		} else if hash != "" {
			fmt.Println("committed", hash)
		}
	}
}

// runPlan generates a plan, walks the user through review on stdin, and
// executes the approved steps.
func (a *app) runPlan(ctx context.Context, task string) error {
	plannerModel := a.cfg.PlannerModel
	if plannerModel == "" {
		plannerModel = a.cfg.Model
	}

	fmt.Println("generating plan...")
	p, err := plan.Generate(ctx, a.provider, plannerModel, task, ".", nil)
	if err != nil {
		return err
	}
	if err := p.StartReview(); err != nil {
		return err
	}

	fmt.Printf("\nPlan: %s  (%s)\n\n", p.Task, p.EstimateDisplay(a.cfg.CostPerMtokIn))
	reader := bufio.NewReader(os.Stdin)
	for i := range p.Steps {
		step := &p.Steps[i]
		fmt.Printf("Step %d: %s\n  files: %s\n  %s\n",
			i+1, step.Description, strings.Join(step.Files, ", "), step.Instruction)
		fmt.Print("  approve? [y/N/note] ")
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		switch {
		case line == "y" || line == "Y":
			p.ApproveStep(i)
		case line == "" || line == "n" || line == "N":
			return fmt.Errorf("step %d not approved — plan aborted", i+1)
		default:
			p.Annotate(i, line)
			p.ApproveStep(i)
		}
	}
	if err := p.FinishReview(); err != nil {
		return err
	}
	if _, err := plan.Save(p); err != nil {
		return err
	}

	runner := func(ctx context.Context, instruction string, pre *budget.Preamble, maxToolCalls int) error {
		loop := agent.New(a.provider, a.registry, a.cache, a.externalTools(), func(ev agent.Event) {
			if tc, ok := ev.(agent.ToolCallEvent); ok {
				fmt.Printf("  → %s(%s)\n", tc.Name, tc.ArgsSummary)
			}
		}, a.agentConfig(maxToolCalls))
		result, err := loop.Run(ctx, instruction, pre)
		if err != nil {
			return err
		}
		if result.ContextExhausted {
			return fmt.Errorf("context exhausted during step")
		}
		return nil
	}

	err = plan.Execute(ctx, p, runner, plan.ExecuteOptions{
		Conventions:  loadConventions("."),
		Hooks:        a.hookCfg,
		HooksEnabled: a.hooksOn,
	})
	if err != nil {
		return err
	}
	fmt.Printf("plan complete: %d/%d steps passed\n", p.PassedCount(), len(p.Steps))
	return nil
}

// runTUI launches the interactive chat.
func (a *app) runTUI(ctx context.Context) error {
	runner := func(runCtx context.Context, task string) (<-chan agent.Event, <-chan error) {
		events := make(chan agent.Event, 64)
		errs := make(chan error, 1)
		go func() {
			defer close(events)
			loop := agent.New(a.provider, a.registry, a.cache, a.externalTools(),
				func(ev agent.Event) { events <- ev }, a.agentConfig(0))
			if a.cfg.GitContext {
				if hash := gitctx.Checkpoint(runCtx); hash != "" {
					slog.Debug("Pre-task checkpoint", "head", hash)
				}
			}
			result, err := loop.Run(runCtx, task, a.preamble(runCtx))
			if err != nil {
				errs <- err
				return
			}
			a.finishTask(runCtx, task, result)
		}()
		return events, errs
	}

	m := tui.New(ctx, runner, a.cfg.ProfileName, a.cfg.Model)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}

func taskPreview(task string) string {
	runes := []rune(task)
	if len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return task
}

// loadConventions finds the project conventions file: AGENTS.md, CLAUDE.md,
// or .pare/conventions.md at the workspace root.
func loadConventions(root string) string {
	for _, candidate := range []string{"AGENTS.md", "CLAUDE.md", filepath.Join(".pare", "conventions.md")} {
		data, err := os.ReadFile(filepath.Join(root, candidate))
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	return ""
}
