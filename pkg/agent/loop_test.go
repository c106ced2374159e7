package agent_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/agent"
	"github.com/nstogner/pare/pkg/budget"
	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/hooks"
	"github.com/nstogner/pare/pkg/model"
	"github.com/nstogner/pare/pkg/tools"
)

// scriptedProvider returns canned responses in order and records requests.
type scriptedProvider struct {
	responses []*model.Response
	requests  []model.Request
}

func (p *scriptedProvider) Chat(_ context.Context, req model.Request, onDelta func(model.Delta)) (*model.Response, error) {
	p.requests = append(p.requests, req)
	if len(p.requests) > len(p.responses) {
		return &model.Response{Text: "done"}, nil
	}
	resp := p.responses[len(p.requests)-1]
	if onDelta != nil && resp.Text != "" {
		onDelta(model.Delta{Content: resp.Text})
	}
	return resp, nil
}

// countingTool records how many times it was dispatched.
type countingTool struct {
	name  string
	count int
	out   string
}

func (c *countingTool) Name() string                { return c.name }
func (c *countingTool) Description() string         { return "counting stub" }
func (c *countingTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Execute(context.Context, map[string]any) (string, error) {
	c.count++
	return c.out, nil
}

func newLoop(provider model.Provider, registry *tools.Registry, cfg agent.Config) *agent.Loop {
	if cfg.ContextTokens == 0 {
		cfg.ContextTokens = 32768
	}
	return agent.New(provider, registry, cache.New(), nil, nil, cfg)
}

func toolCall(id, name, args string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: args}
}

func TestRunFinishesOnTextResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*model.Response{
		{Text: "all done", InputTokens: 10, OutputTokens: 5},
	}}
	loop := newLoop(provider, tools.NewRegistry(), agent.Config{Model: "m"})

	result, err := loop.Run(context.Background(), "say hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "all done", result.Text)
	assert.Equal(t, 1, result.Stats.ModelCalls)
	assert.Equal(t, 10, result.Stats.InputTokens)
}

func TestRunDispatchesToolsAndReenters(t *testing.T) {
	search := &countingTool{name: "search", out: "No matches for 'TODO' in ."}
	registry := tools.NewRegistry()
	registry.Register(search)

	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "search", `{"pattern":"TODO"}`)}},
		{Text: "clean"},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m"})

	result, err := loop.Run(context.Background(), "check for TODOs", nil)
	require.NoError(t, err)
	assert.Equal(t, "clean", result.Text)
	assert.Equal(t, 1, search.count)
	assert.Equal(t, 2, result.Stats.ModelCalls)

	// The tool message answers the call id and keeps the full body.
	var toolMsg *domain.Message
	for i := range result.Messages {
		if result.Messages[i].IsTool() {
			toolMsg = &result.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "No matches")
}

func TestLoopBreakServesCachedSecondCall(t *testing.T) {
	search := &countingTool{name: "search", out: "[1 lines matched]\nsrc/a.go:3:TODO fix"}
	registry := tools.NewRegistry()
	registry.Register(search)

	sameCall := `{"pattern":"TODO"}`
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "search", sameCall)}},
		{ToolCalls: []domain.ToolCall{toolCall("c2", "search", sameCall)}},
		{ToolCalls: []domain.ToolCall{toolCall("c3", "search", sameCall)}},
		{Text: "ok, changing strategy"},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m"})

	result, err := loop.Run(context.Background(), "find TODOs", nil)
	require.NoError(t, err)

	// Only the first call dispatched; the repeats were intercepted.
	assert.Equal(t, 1, search.count)

	var toolBodies []string
	for _, m := range result.Messages {
		if m.IsTool() {
			toolBodies = append(toolBodies, m.Full)
		}
	}
	require.Len(t, toolBodies, 3)
	assert.NotContains(t, toolBodies[0], "loop-break")
	assert.Contains(t, toolBodies[1], "(cached, loop-break) change strategy")
	assert.Contains(t, toolBodies[1], "src/a.go:3:TODO fix")
	assert.Contains(t, toolBodies[2], "(cached, loop-break) change strategy")
}

func TestHookOutputInjectedIntoToolResult(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "hooked.txt")
	require.NoError(t, os.WriteFile(target, []byte("original content line\n"), 0o644))

	c := cache.New()
	registry := tools.NewRegistry()
	registry.Register(tools.NewEditFile(c))

	args := fmt.Sprintf(`{"path":%q,"old_str":"original content line","new_str":"updated content line"}`, target)
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "edit_file", args)}},
		{Text: "edited"},
	}}

	loop := agent.New(provider, registry, c, nil, nil, agent.Config{
		Model:         "m",
		ContextTokens: 32768,
		Hooks:         hooks.Config{OnEdit: []string{"echo ERR >&2; exit 1"}},
		HooksEnabled:  true,
	})

	result, err := loop.Run(context.Background(), "edit the file", nil)
	require.NoError(t, err)

	var toolBody string
	for _, m := range result.Messages {
		if m.IsTool() {
			toolBody = m.Full
		}
	}
	// Edit success text plus the hook block with output and exit code.
	assert.Contains(t, toolBody, "✓ Edited")
	assert.Contains(t, toolBody, "⚙")
	assert.Contains(t, toolBody, "ERR")
	assert.Contains(t, toolBody, "exit 1")
}

func TestRecallReturnsFullStoredBody(t *testing.T) {
	big := &countingTool{name: "bash", out: "[exit code: 0]\n" + strings.Repeat("output line\n", 50)}
	registry := tools.NewRegistry()
	registry.Register(big)
	registry.Register(tools.NewRecall())

	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "bash", `{"command":"make"}`)}},
		{ToolCalls: []domain.ToolCall{toolCall("c2", "recall", `{"tool_call_id":"c1"}`)}},
		{Text: "recalled"},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m"})

	result, err := loop.Run(context.Background(), "run make", nil)
	require.NoError(t, err)

	var recallBody string
	for _, m := range result.Messages {
		if m.IsTool() && m.ToolCallID == "c2" {
			recallBody = m.Full
		}
	}
	assert.Contains(t, recallBody, "output line")
	assert.Equal(t, 1, big.count, "recall is served inline, not re-dispatched")
}

func TestBatchDependencyGuard(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(target, []byte("the first line text\n"), 0o644))

	c := cache.New()
	registry := tools.NewRegistry()
	registry.Register(tools.NewEditFile(c))

	edit1 := fmt.Sprintf(`{"path":%q,"old_str":"the first line text","new_str":"the second line text"}`, target)
	edit2 := fmt.Sprintf(`{"path":%q,"old_str":"the second line text","new_str":"the third line text"}`, target)
	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{
			toolCall("c1", "edit_file", edit1),
			toolCall("c2", "edit_file", edit2),
		}},
		{Text: "done"},
	}}
	loop := agent.New(provider, registry, c, nil, nil, agent.Config{Model: "m", ContextTokens: 32768})

	result, err := loop.Run(context.Background(), "two edits", nil)
	require.NoError(t, err)

	var second string
	for _, m := range result.Messages {
		if m.IsTool() && m.ToolCallID == "c2" {
			second = m.Full
		}
	}
	assert.Contains(t, second, "Not executed")
	data, _ := os.ReadFile(target)
	assert.Equal(t, "the second line text\n", string(data))
}

func TestToolBudgetCap(t *testing.T) {
	noisy := &countingTool{name: "search", out: "No matches"}
	registry := tools.NewRegistry()
	registry.Register(noisy)

	// The model keeps asking for distinct searches forever.
	var responses []*model.Response
	for i := 0; i < 10; i++ {
		responses = append(responses, &model.Response{ToolCalls: []domain.ToolCall{
			toolCall(fmt.Sprintf("c%d", i), "search", fmt.Sprintf(`{"pattern":"p%d"}`, i)),
		}})
	}
	provider := &scriptedProvider{responses: responses}

	loop := newLoop(provider, registry, agent.Config{Model: "m", MaxToolCalls: 3})
	_, err := loop.Run(context.Background(), "never ends", nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, noisy.count, 3)
}

// ── Quick mode ──

func TestQuickModeSingleCallAndSingleDispatch(t *testing.T) {
	search := &countingTool{name: "search", out: "No matches"}
	registry := tools.NewRegistry()
	registry.Register(search)

	provider := &scriptedProvider{responses: []*model.Response{
		{Text: "4", ToolCalls: []domain.ToolCall{
			toolCall("c1", "search", `{"pattern":"x"}`),
			toolCall("c2", "search", `{"pattern":"y"}`),
		}},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m"})

	result, err := loop.RunQuick(context.Background(), "what is 2+2")
	require.NoError(t, err)

	// Exactly one chat-completion request; at most one tool dispatch.
	assert.Len(t, provider.requests, 1)
	assert.Equal(t, 1, search.count)
	assert.Equal(t, 1, result.Stats.ToolCalls)
}

func TestQuickModeRefusesRestrictedTool(t *testing.T) {
	write := &countingTool{name: "write_file", out: "should never run"}
	registry := tools.NewRegistry()
	registry.Register(write)

	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "write_file", `{"path":"x","content":"y"}`)}},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m"})

	result, err := loop.RunQuick(context.Background(), "write a file")
	require.NoError(t, err)
	assert.Len(t, provider.requests, 1)
	assert.Equal(t, 0, write.count, "quick mode restricts the tool surface")
	assert.Equal(t, 0, result.Stats.ToolCalls)

	// The quick tool list never offered write_file to the model.
	for _, def := range provider.requests[0].Tools {
		assert.NotEqual(t, "write_file", def.Name)
	}
}

func TestBudgetEnforcedBeforeEachRequest(t *testing.T) {
	// A tool result far larger than the window forces compression before
	// the next request.
	big := &countingTool{name: "bash", out: "[exit code: 0]\n" + strings.Repeat("x", 13500)}
	registry := tools.NewRegistry()
	registry.Register(big)

	provider := &scriptedProvider{responses: []*model.Response{
		{ToolCalls: []domain.ToolCall{toolCall("c1", "bash", `{"command":"big"}`)}},
		{ToolCalls: []domain.ToolCall{toolCall("c2", "bash", `{"command":"big2"}`)}},
		{Text: "done"},
	}}
	loop := newLoop(provider, registry, agent.Config{Model: "m", ContextTokens: 8192})

	_, err := loop.Run(context.Background(), "task", nil)
	require.NoError(t, err)

	// By the third request the first result body must be compressed.
	third := provider.requests[2]
	for _, m := range third.Messages {
		if m.IsTool() && m.ToolCallID == "c1" {
			assert.Less(t, len(m.Content), 1000)
			assert.Contains(t, m.Content, "compressed")
		}
	}
	usable := budget.NewConfig(8192).Usable()
	assert.LessOrEqual(t, budget.EstimateMessages(third.Messages), usable)
}
