// Package model defines the provider abstraction between the agent loop and
// any chat-completion backend.
package model

import (
	"context"

	"github.com/nstogner/pare/pkg/domain"
)

// ToolDef is the minimal JSON-schema tool definition sent to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is one chat-completion call.
type Request struct {
	Model    string
	System   string
	Messages []domain.Message
	Tools    []ToolDef
}

// Delta is one streamed increment: assistant text and/or reasoning tokens.
type Delta struct {
	Content   string
	Reasoning string
}

// Response is the assembled result after the stream completes. Tool calls
// are whole — partial calls are never surfaced.
type Response struct {
	Text         string
	ToolCalls    []domain.ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider streams a chat completion, invoking onDelta for each increment as
// it arrives. Implementations must honor ctx cancellation at every receive.
type Provider interface {
	Chat(ctx context.Context, req Request, onDelta func(Delta)) (*Response, error)
}
