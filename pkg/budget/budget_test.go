package budget_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/budget"
	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/history"
)

func buildHistory(t *testing.T, toolTurns int, bodySize int) *history.Store {
	t.Helper()
	store := history.New()
	store.AppendUser("the original task")
	body := strings.Repeat("x", bodySize)
	for i := 0; i < toolTurns; i++ {
		call := domain.ToolCall{
			ID:        "call_" + string(rune('a'+i)),
			Name:      "read_file",
			Arguments: `{"path":"file` + string(rune('a'+i)) + `.go"}`,
		}
		store.AppendAssistant("reading", []domain.ToolCall{call})
		store.AppendTool(call, "[file"+string(rune('a'+i))+".go — 1 lines total]\n\n1#abcd: "+body, false)
	}
	return store
}

func TestEnforceUnderBudgetIsNoop(t *testing.T) {
	store := buildHistory(t, 2, 100)
	before := append([]domain.Message{}, store.Messages()...)

	engine := budget.NewEngine(32768)
	res := engine.Enforce(store, 100)

	assert.False(t, res.Compressed)
	assert.Equal(t, before, store.Messages())
}

func TestEnforceCompressesToolResults(t *testing.T) {
	// ~50k estimated tokens against a 32768 window, R = 20%.
	store := buildHistory(t, 10, 20000)
	task := store.Messages()[0].Content

	engine := budget.NewEngine(32768)
	res := engine.Enforce(store, 500)

	require.True(t, res.Compressed)
	assert.False(t, res.Exhausted)
	assert.LessOrEqual(t, res.Estimate, 32768-32768*20/100)

	msgs := store.Messages()
	// Message 0 is byte-identical to the input.
	assert.Equal(t, task, msgs[0].Content)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)

	// All but the most recent surviving tool result are compressed.
	lastTool := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsTool() {
			lastTool = i
			break
		}
	}
	require.GreaterOrEqual(t, lastTool, 0)
	for i, m := range msgs {
		if m.IsTool() && i != lastTool {
			assert.NotEqual(t, m.Full, m.Content, "tool result at %d should be compressed", i)
			assert.Contains(t, m.Content, "compressed")
		}
	}
}

func TestEnforceIsIdempotent(t *testing.T) {
	store := buildHistory(t, 10, 20000)
	engine := budget.NewEngine(32768)

	engine.Enforce(store, 500)
	once := append([]domain.Message{}, store.Messages()...)

	engine.Enforce(store, 500)
	assert.Equal(t, once, store.Messages())
}

func TestEnforcePreservesToolCallLinkage(t *testing.T) {
	store := buildHistory(t, 10, 20000)
	engine := budget.NewEngine(32768)
	engine.Enforce(store, 500)

	for _, m := range store.Messages() {
		if m.IsTool() {
			assert.NotEmpty(t, m.ToolCallID)
		}
	}
}

func TestEnforceDropsOldestTurnsUnderHeavyPressure(t *testing.T) {
	store := buildHistory(t, 30, 30000)
	engine := budget.NewEngine(8192)
	res := engine.Enforce(store, 200)

	require.True(t, res.Compressed)
	msgs := store.Messages()
	assert.Equal(t, "the original task", msgs[0].Content)
	assert.Less(t, len(msgs), 61)
}

func TestEnforceExhaustion(t *testing.T) {
	// A single enormous protected tool result that cannot fit.
	store := history.New()
	store.AppendUser("task")
	call := domain.ToolCall{ID: "c1", Name: "read_file", Arguments: `{"path":"big.go"}`}
	store.AppendAssistant("", []domain.ToolCall{call})
	store.AppendTool(call, strings.Repeat("y", 100000), false)

	engine := budget.NewEngine(1024)
	res := engine.Enforce(store, 100)
	assert.True(t, res.Exhausted)
	// Message 0 survives regardless.
	assert.Equal(t, "task", store.Messages()[0].Content)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, budget.EstimateTokens(""))
	assert.Equal(t, 1, budget.EstimateTokens("ab"))
	assert.Equal(t, 25, budget.EstimateTokens(strings.Repeat("a", 100)))
	// Runes, not bytes: multi-byte scalars are not overcounted.
	assert.Equal(t, 25, budget.EstimateTokens(strings.Repeat("é", 100)))
}

func TestLoopDetectorFiresOnSecondConsecutive(t *testing.T) {
	var d budget.LoopDetector

	assert.False(t, d.Record("search", `{"pattern":"TODO"}`))
	assert.True(t, d.Record("search", `{"pattern":"TODO"}`))
	// A third identical call is still intercepted.
	assert.True(t, d.Record("search", `{"pattern":"TODO"}`))
}

func TestLoopDetectorDistinguishesArgs(t *testing.T) {
	var d budget.LoopDetector

	assert.False(t, d.Record("search", `{"pattern":"TODO"}`))
	assert.False(t, d.Record("search", `{"pattern":"FIXME"}`))
	assert.False(t, d.Record("read_file", `{"path":"a.go"}`))
}

func TestLoopDetectorNormalizesArgOrder(t *testing.T) {
	var d budget.LoopDetector

	assert.False(t, d.Record("search", `{"pattern":"x", "path":"."}`))
	// Same call with keys reordered and whitespace changed.
	assert.True(t, d.Record("search", `{"path":".","pattern":"x"}`))
}

func TestPreambleTruncatesOldestAttachmentFirst(t *testing.T) {
	oldContent := strings.Repeat("old line\n", 400)
	newContent := strings.Repeat("new line\n", 40)
	pre := &budget.Preamble{
		Attachments: []budget.Attachment{
			{Path: "old.go", Content: oldContent, AttachedAt: parseTime(t, "2026-01-01T00:00:00Z")},
			{Path: "new.go", Content: newContent, AttachedAt: parseTime(t, "2026-01-02T00:00:00Z")},
		},
	}

	out := pre.Render(300)
	assert.LessOrEqual(t, budget.EstimateTokens(out), 300)
	assert.Contains(t, out, "old.go")
	assert.Contains(t, out, "truncated")
	// The newer attachment survives whole.
	assert.Contains(t, out, newContent)
}

func parseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestPreambleRenderSections(t *testing.T) {
	pre := &budget.Preamble{
		Conventions: "use tabs",
		GitStatus:   "## main\n M foo.go",
		Summaries:   []string{"modified src/auth.rs [validate_token]"},
	}
	out := pre.Render(100000)
	assert.Contains(t, out, "# Project conventions")
	assert.Contains(t, out, "use tabs")
	assert.Contains(t, out, "# Git status")
	assert.Contains(t, out, "# Completed steps so far")
	assert.Contains(t, out, "modified src/auth.rs [validate_token]")
}
