// Package budget enforces the context window proactively: deterministic
// compression passes run before every model request, never after. No model
// calls are spent to save tokens.
package budget

import (
	"unicode/utf8"

	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/history"
)

// Config is the token budget split for one model.
type Config struct {
	// ContextTokens is the declared window size W.
	ContextTokens int
	// Headroom is the reserve R for the model response and tool schemas.
	Headroom int
}

// NewConfig reserves 20% of the window for the response.
func NewConfig(contextTokens int) Config {
	return Config{
		ContextTokens: contextTokens,
		Headroom:      contextTokens * 20 / 100,
	}
}

// Usable is the maximum estimated size of an outgoing request: W − R.
func (c Config) Usable() int { return c.ContextTokens - c.Headroom }

// EstimateTokens is the conservative heuristic: max(1, chars/4), counting
// runes so multi-byte text is not overestimated.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// messageOverhead accounts for role and formatting tokens per message.
const messageOverhead = 10

// EstimateMessages sums the estimate over all message bodies.
func EstimateMessages(msgs []domain.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content) + messageOverhead
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Arguments)
		}
	}
	return total
}

// Engine runs the compression passes over a history store.
type Engine struct {
	config Config
}

func NewEngine(contextTokens int) *Engine {
	return &Engine{config: NewConfig(contextTokens)}
}

func (e *Engine) ContextTokens() int { return e.config.ContextTokens }

// Result describes one enforcement pass.
type Result struct {
	Estimate   int
	Compressed bool
	// Exhausted means the history could not be brought under budget even
	// after trimming to message 0 plus the most recent turn. The loop should
	// stop gracefully.
	Exhausted bool
}

// Enforce checks usage and compresses the history in place if needed.
// systemTokens is the estimated size of the system message plus preamble.
//
// Pass 1 swaps unprotected tool-result bodies for their display summaries,
// oldest first. If that is not enough it extends to protected results,
// sparing only the most recent tool result and recall results. Pass 2 drops the oldest
// assistant turn (with its tool results), never message 0 and never the
// final two turns — then keeps dropping under exhaustion pressure until
// message 0 and the most recent turn are the only survivors.
//
// Enforcement is deterministic and idempotent: enforcing twice yields the
// same history.
func (e *Engine) Enforce(store *history.Store, systemTokens int) Result {
	target := e.config.Usable()
	current := EstimateMessages(store.Messages()) + systemTokens
	if current <= target {
		return Result{Estimate: current}
	}

	e.compressToolResults(store, false)
	current = EstimateMessages(store.Messages()) + systemTokens
	if current <= target {
		return Result{Estimate: current, Compressed: true}
	}

	e.compressToolResults(store, true)
	current = EstimateMessages(store.Messages()) + systemTokens
	if current <= target {
		return Result{Estimate: current, Compressed: true}
	}

	protectedTail := 4
	for current > target {
		if !dropOldestTurn(store, protectedTail) {
			if protectedTail > 2 {
				// Exhaustion pressure: shrink the protected tail down to the
				// most recent assistant+tool pair before giving up.
				protectedTail = 2
				continue
			}
			break
		}
		current = EstimateMessages(store.Messages()) + systemTokens
	}

	return Result{
		Estimate:   current,
		Compressed: true,
		Exhausted:  current > target,
	}
}

// compressToolResults swaps tool bodies for display summaries. When
// includeProtected is true it also compresses protected results, sparing
// only the most recent tool message. recall results are never compressed.
func (e *Engine) compressToolResults(store *history.Store, includeProtected bool) {
	msgs := store.Messages()
	lastTool := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsTool() {
			lastTool = i
			break
		}
	}
	for i := range msgs {
		m := &msgs[i]
		if !m.IsTool() || i == lastTool || m.ToolName == "recall" {
			continue
		}
		if m.Protected && !includeProtected {
			continue
		}
		compressed := history.CompressBody(m.ToolName, m.Display)
		if len(compressed) < len(m.Content) {
			m.Content = compressed
		}
	}
}

// dropOldestTurn removes the oldest assistant message (index ≥ 1) together
// with its trailing tool results, leaving the last protectedTail messages
// intact. Returns false when nothing droppable remains.
func dropOldestTurn(store *history.Store, protectedTail int) bool {
	msgs := store.Messages()
	if len(msgs) <= protectedTail+1 {
		return false
	}
	dropBefore := len(msgs) - protectedTail
	for i := 1; i < dropBefore; i++ {
		if msgs[i].Role != domain.RoleAssistant {
			continue
		}
		end := i + 1
		for end < len(msgs) && msgs[end].IsTool() {
			end++
		}
		if end > dropBefore {
			end = dropBefore
		}
		out := make([]domain.Message, 0, len(msgs)-(end-i))
		out = append(out, msgs[:i]...)
		out = append(out, msgs[end:]...)
		store.SetMessages(out)
		return true
	}
	return false
}
