// Package agent is the per-turn controller: it assembles the model view
// through the budget engine, streams chat completions, dispatches tool
// calls, and re-enters the model with results until the turn is final.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/nstogner/pare/pkg/budget"
	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/history"
	"github.com/nstogner/pare/pkg/hooks"
	"github.com/nstogner/pare/pkg/mcp"
	"github.com/nstogner/pare/pkg/model"
	"github.com/nstogner/pare/pkg/tools"
)

// DefaultMaxToolCalls is the hard per-run cap on tool dispatches.
const DefaultMaxToolCalls = 40

// maxChatAttempts bounds transport retries per model call.
const maxChatAttempts = 3

// quickTools is the restricted surface available in quick mode.
var quickTools = []string{"edit_file", "search", "read_file", "bash"}

// Config parameterizes one run.
type Config struct {
	Model         string
	ContextTokens int
	Root          string
	Verbose       bool
	DryRun        bool
	// MaxToolCalls caps tool dispatches; 0 means DefaultMaxToolCalls.
	MaxToolCalls int
	Hooks        hooks.Config
	HooksEnabled bool
}

// ExternalTools is the MCP collaborator surface the loop depends on.
type ExternalTools interface {
	Tools() []mcp.Tool
	Call(ctx context.Context, qualifiedName string, arguments map[string]any) (string, error)
}

// Result is the outcome of a run.
type Result struct {
	// Text is the final assistant message.
	Text  string
	Stats Stats
	// Messages is the final history, for session persistence.
	Messages []domain.Message
	// ContextExhausted is set when the budget engine could not fit the
	// history and the loop stopped gracefully.
	ContextExhausted bool
}

// Loop orchestrates model calls and tool dispatch for one session.
type Loop struct {
	provider model.Provider
	registry *tools.Registry
	cache    *cache.Cache
	external ExternalTools
	emit     func(Event)
	config   Config
}

// New builds a loop. external may be nil when no MCP servers are configured;
// emit may be nil for headless runs.
func New(provider model.Provider, registry *tools.Registry, c *cache.Cache, external ExternalTools, emit func(Event), config Config) *Loop {
	if config.MaxToolCalls <= 0 {
		config.MaxToolCalls = DefaultMaxToolCalls
	}
	if config.Root == "" {
		config.Root = "."
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Loop{
		provider: provider,
		registry: registry,
		cache:    c,
		external: external,
		emit:     emit,
		config:   config,
	}
}

// Run executes the full agent loop for one task. The preamble (attachments,
// conventions, git status, carry-forward summaries) becomes part of the
// system message; the task itself is history index 0 and is never evicted.
func (l *Loop) Run(ctx context.Context, task string, pre *budget.Preamble) (*Result, error) {
	start := time.Now()
	engine := budget.NewEngine(l.config.ContextTokens)

	system := l.buildSystem(pre)
	systemTokens := budget.EstimateTokens(system)

	store := history.New()
	store.AppendUser(task)

	toolDefs := l.toolDefs(l.registry)
	attachedPaths := attachedPathSet(pre)

	var detector budget.LoopDetector
	result := &Result{}
	toolCallCount := 0

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		l.cache.NextTurn()

		if toolCallCount >= l.config.MaxToolCalls {
			l.emit(ToolBudgetHit{Limit: l.config.MaxToolCalls})
			break
		}

		enforced := engine.Enforce(store, systemTokens)
		if enforced.Compressed {
			l.emit(BudgetWarning{})
		}
		l.emit(ContextUpdate{
			Used:       enforced.Estimate,
			Total:      engine.ContextTokens(),
			Compressed: enforced.Compressed,
		})
		if enforced.Exhausted {
			slog.Warn("Context exhausted — stopping loop", "estimate", enforced.Estimate)
			result.Text = "[context exhausted — the task is too large for the configured window]"
			result.ContextExhausted = true
			break
		}

		resp, err := l.chatWithRetry(ctx, model.Request{
			Model:    l.config.Model,
			System:   system,
			Messages: store.Messages(),
			Tools:    toolDefs,
		})
		if err != nil {
			return result, err
		}
		result.Stats.ModelCalls++
		result.Stats.InputTokens += resp.InputTokens
		result.Stats.OutputTokens += resp.OutputTokens

		store.AppendAssistant(resp.Text, resp.ToolCalls)

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			break
		}

		toolCallCount = l.executeToolCalls(ctx, store, &detector, resp.ToolCalls, attachedPaths, toolCallCount)
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	// on_task_done output goes to the UI only, never into context.
	if l.config.HooksEnabled {
		for _, cmd := range l.config.Hooks.OnTaskDone {
			hr := hooks.Run(ctx, cmd)
			l.emit(HookOutput{Event: "on_task_done", Command: cmd, Output: hr.Output, ExitCode: hr.ExitCode})
		}
	}

	result.Stats.ToolCalls = toolCallCount
	result.Stats.CompressedCount = store.CompressedCount()
	result.Stats.DurationSecs = int(time.Since(start).Seconds())
	result.Messages = store.Messages()
	l.emit(Done{Stats: result.Stats})
	return result, nil
}

// RunQuick is the single-shot variant: one model call, a restricted tool
// set, and at most one tool dispatch.
func (l *Loop) RunQuick(ctx context.Context, task string) (*Result, error) {
	start := time.Now()
	restricted := l.registry.Restricted(quickTools...)

	store := history.New()
	store.AppendUser(task)

	resp, err := l.chatWithRetry(ctx, model.Request{
		Model:    l.config.Model,
		System:   quickSystemPrompt,
		Messages: store.Messages(),
		Tools:    l.toolDefs(restricted),
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Text: resp.Text}
	result.Stats.ModelCalls = 1
	result.Stats.InputTokens = resp.InputTokens
	result.Stats.OutputTokens = resp.OutputTokens

	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		tool, ok := restricted.Get(tc.Name)
		if !ok {
			l.emit(ToolResultEvent{Summary: fmt.Sprintf("✗ quick mode: tool '%s' not available", tc.Name)})
		} else {
			body := l.dispatchNative(ctx, tool, tc)
			result.Stats.ToolCalls = 1
			l.emit(ToolResultEvent{Summary: history.Summarize(tc.Name, body)})
		}
	}

	result.Stats.DurationSecs = int(time.Since(start).Seconds())
	l.emit(Done{Stats: result.Stats})
	return result, nil
}

// ── Tool execution ──

// executeToolCalls runs one assistant turn's calls in emission order. All
// results from a batch are appended before the next model call, as the
// chat-completions contract requires.
func (l *Loop) executeToolCalls(
	ctx context.Context,
	store *history.Store,
	detector *budget.LoopDetector,
	calls []domain.ToolCall,
	attachedPaths map[string]bool,
	toolCallCount int,
) int {
	// Dependency guard: if the model batches multiple mutating calls against
	// the same file, only the first executes. The rest get a stub telling
	// the model to re-plan with fresh anchors.
	mutatedFiles := make(map[string]bool)

	for _, tc := range calls {
		if ctx.Err() != nil {
			return toolCallCount
		}
		toolCallCount++

		args, argsErr := parseArgs(tc.Arguments)
		l.emit(ToolCallEvent{Name: tc.Name, ArgsSummary: formatArgsSummary(args)})

		if toolCallCount > l.config.MaxToolCalls {
			store.AppendTool(tc, fmt.Sprintf("[tool budget exhausted (%d calls) — finish with the information you have]", l.config.MaxToolCalls), false)
			continue
		}

		// recall is answered inline from the history side-store. The result
		// is appended as a pinned tool message, which the budget engine
		// never compresses.
		if tc.Name == "recall" {
			body := l.recallBody(store, args)
			store.AppendTool(tc, body, true)
			l.emit(ToolResultEvent{Summary: "✓ recall"})
			continue
		}

		targetPath, _ := args["path"].(string)
		isMutating := tools.Mutating(tc.Name)

		if isMutating && targetPath != "" && mutatedFiles[targetPath] {
			stub := fmt.Sprintf(
				"[Not executed: '%s' was already modified by an earlier call in this batch. "+
					"Re-plan this edit after seeing that result — use fresh line numbers and "+
					"hashes from the post-edit context above.]", targetPath)
			store.AppendTool(tc, stub, false)
			l.emit(ToolResultEvent{Summary: "⚠ skipped dependent edit on " + targetPath})
			continue
		}

		var body string
		switch {
		case argsErr != nil:
			body = fmt.Sprintf("[Error parsing tool arguments: %v]", argsErr)
		case detector.Record(tc.Name, tc.Arguments):
			l.emit(LoopWarning{ToolName: tc.Name})
			prior, ok := store.LastResultFor(tc.Name, tc.Arguments)
			if !ok {
				prior = "[no prior result stored]"
			}
			body = budget.LoopBreakBody(prior)
		default:
			body = l.dispatch(ctx, tc, args)

			// on_edit hooks run after each successful mutating call; their
			// output lands in the same tool result so the model sees
			// compile errors in the same turn.
			if isMutating && !strings.HasPrefix(body, "[Tool error") && l.config.HooksEnabled {
				for _, cmd := range l.config.Hooks.OnEdit {
					hr := hooks.Run(ctx, cmd)
					body += hooks.FormatForContext(cmd, hr)
					l.emit(HookOutput{Event: "on_edit", Command: cmd, Output: hr.Output, ExitCode: hr.ExitCode})
				}
			}
			if isMutating && targetPath != "" {
				mutatedFiles[targetPath] = true
			}
		}

		store.AppendTool(tc, body, attachedPaths[targetPath])
		msgs := store.Messages()
		l.emit(ToolResultEvent{Summary: msgs[len(msgs)-1].Display})
	}
	return toolCallCount
}

// dispatch routes one call to a native tool or the MCP collaborator and
// folds failures into the returned body.
func (l *Loop) dispatch(ctx context.Context, tc domain.ToolCall, args map[string]any) string {
	if l.config.DryRun {
		return fmt.Sprintf("[dry-run: %s not executed]", tc.Name)
	}

	if strings.Contains(tc.Name, ".") {
		if l.external == nil {
			return fmt.Sprintf("[MCP tool error: no servers connected for '%s']", tc.Name)
		}
		out, err := l.external.Call(ctx, tc.Name, args)
		if err != nil {
			return fmt.Sprintf("[MCP tool error: %v]", err)
		}
		return out
	}

	tool, ok := l.registry.Get(tc.Name)
	if !ok {
		return fmt.Sprintf("[Tool error: unknown tool '%s']", tc.Name)
	}
	return l.dispatchNative(ctx, tool, tc)
}

func (l *Loop) dispatchNative(ctx context.Context, tool tools.Tool, tc domain.ToolCall) string {
	args, err := parseArgs(tc.Arguments)
	if err != nil {
		return fmt.Sprintf("[Error parsing tool arguments: %v]", err)
	}
	out, err := tool.Execute(ctx, args)
	if err == nil {
		return out
	}

	body := fmt.Sprintf("[Tool error: %v]", err)
	// On edit failure, include the current file content so the model can
	// see exactly what is there and correct its old_str.
	if tc.Name == "edit_file" || tc.Name == "patch_file" {
		if path, _ := args["path"].(string); path != "" {
			if hit, ok := l.cache.Check(path); ok {
				body += "\n\nCurrent file content for reference:\n" + hit.Content
			} else if data, readErr := os.ReadFile(path); readErr == nil {
				body += "\n\nCurrent file content for reference:\n" + string(data)
			}
		}
	}
	return body
}

func (l *Loop) recallBody(store *history.Store, args map[string]any) string {
	if id, _ := args["tool_call_id"].(string); id != "" {
		if full, ok := store.Recall(id); ok {
			return full
		}
	}
	if name, _ := args["tool_name"].(string); name != "" {
		if full, ok := store.RecallByName(name); ok {
			return full
		}
	}
	return "[recall: no matching tool result found]"
}

// ── Model call ──

// chatWithRetry retries transport failures with exponential backoff.
// Tool failures are never retried — only the network layer is.
func (l *Loop) chatWithRetry(ctx context.Context, req model.Request) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxChatAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			slog.Debug("Retrying model call", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, err := l.provider.Chat(ctx, req, func(d model.Delta) {
			if d.Reasoning != "" {
				l.emit(ThinkingChunk{Text: d.Reasoning})
			}
			if d.Content != "" {
				l.emit(TextChunk{Text: d.Content})
			}
		})
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		slog.Warn("Model call failed", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("model call failed after %d attempts: %w", maxChatAttempts, lastErr)
}

// ── Assembly helpers ──

func (l *Loop) buildSystem(pre *budget.Preamble) string {
	system := systemPromptBase
	if m := buildProjectMap(l.config.Root); m != "" {
		system += m
	}
	if pre != nil && !pre.Empty() {
		// The preamble gets a quarter of the usable window as its own
		// sub-budget.
		system += "\n\n" + pre.Render(budget.NewConfig(l.config.ContextTokens).Usable()/4)
	}
	return system
}

func (l *Loop) toolDefs(registry *tools.Registry) []model.ToolDef {
	var defs []model.ToolDef
	for _, t := range registry.List() {
		defs = append(defs, model.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	if l.external != nil {
		for _, mt := range l.external.Tools() {
			defs = append(defs, model.ToolDef{
				Name:        mt.QualifiedName,
				Description: mt.Description,
				Parameters:  mt.InputSchema,
			})
		}
	}
	return defs
}

func attachedPathSet(pre *budget.Preamble) map[string]bool {
	out := make(map[string]bool)
	if pre == nil {
		return out
	}
	for _, a := range pre.Attachments {
		out[a.Path] = true
	}
	return out
}

func parseArgs(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]any{}, err
	}
	return args, nil
}

// formatArgsSummary renders tool args as a compact one-liner for the UI.
func formatArgsSummary(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		var val string
		switch v := args[k].(type) {
		case string:
			val = fmt.Sprintf("%q", truncateRunes(v, 57))
		default:
			val = truncateRunes(fmt.Sprintf("%v", v), 37)
		}
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, ", ")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
