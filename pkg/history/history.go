// Package history is the ordered message log for one agent run. Each tool
// result is stored with two bodies: the full payload (kept for recall and
// initially shown to the model) and a one-line display summary that the
// budget engine substitutes into the model view under pressure.
package history

import (
	"time"

	"github.com/nstogner/pare/pkg/domain"
)

// Store owns the message sequence. Index 0 is the original user task and is
// never evicted or rewritten.
type Store struct {
	msgs []domain.Message
	// Tool-call ids whose results belong to attached files; these stay
	// protected even after a newer result takes their (tool, args) key.
	attached map[string]bool
}

func New() *Store {
	return &Store{attached: make(map[string]bool)}
}

// Messages exposes the live slice. The budget engine compresses through this
// handle; everything else must treat it as read-only.
func (s *Store) Messages() []domain.Message { return s.msgs }

func (s *Store) Len() int { return len(s.msgs) }

// SetMessages replaces the message slice. Used by the budget engine after a
// turn-trimming pass; the caller guarantees index 0 is preserved.
func (s *Store) SetMessages(msgs []domain.Message) { s.msgs = msgs }

// AppendUser appends a user message.
func (s *Store) AppendUser(text string) {
	s.msgs = append(s.msgs, domain.Message{Role: domain.RoleUser, Content: text})
}

// AppendAssistant appends an assistant message with any tool calls it made.
func (s *Store) AppendAssistant(text string, calls []domain.ToolCall) {
	s.msgs = append(s.msgs, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   text,
		ToolCalls: calls,
	})
}

// AppendTool records a tool result. The full body becomes the model-facing
// content; the display summary is computed here so compression later is a
// pure body swap that cannot break the tool_call_id linkage.
//
// Protection: the newest result per (tool, fingerprint) key is protected
// against compression; the previous holder of the key is unprotected.
// Results for attached files stay protected regardless.
func (s *Store) AppendTool(call domain.ToolCall, full string, attached bool) {
	fp := domain.ToolFingerprint(call.Name, call.Arguments)
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.IsTool() && m.Fingerprint == fp && !s.attached[m.ToolCallID] {
			m.Protected = false
		}
	}
	s.msgs = append(s.msgs, domain.Message{
		Role:        domain.RoleTool,
		Content:     full,
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		Fingerprint: fp,
		Timestamp:   time.Now().UTC(),
		Protected:   true,
		Display:     Summarize(call.Name, full),
		Full:        full,
	})
	if attached {
		s.attached[call.ID] = true
	}
}

// Recall returns the full stored body for a tool_call_id.
func (s *Store) Recall(toolCallID string) (string, bool) {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.IsTool() && m.ToolCallID == toolCallID {
			return m.Full, true
		}
	}
	return "", false
}

// RecallByName returns the most recent full body for a tool name.
func (s *Store) RecallByName(toolName string) (string, bool) {
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.IsTool() && m.ToolName == toolName {
			return m.Full, true
		}
	}
	return "", false
}

// LastResultFor returns the most recent full body for an exact
// (tool, fingerprint) pair. Used by the loop detector to serve the repeat.
func (s *Store) LastResultFor(name, arguments string) (string, bool) {
	fp := domain.ToolFingerprint(name, arguments)
	for i := len(s.msgs) - 1; i >= 0; i-- {
		m := s.msgs[i]
		if m.IsTool() && m.Fingerprint == fp {
			return m.Full, true
		}
	}
	return "", false
}

// CompressedCount reports how many tool results currently carry a compressed
// body (the display summary) instead of their full payload.
func (s *Store) CompressedCount() int {
	n := 0
	for _, m := range s.msgs {
		if m.IsTool() && m.Content != m.Full {
			n++
		}
	}
	return n
}
