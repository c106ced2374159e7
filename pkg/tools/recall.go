package tools

import (
	"context"
	"fmt"
)

// Recall retrieves the full body of a previous tool result whose model view
// was compressed to a display summary. The agent loop handles recall inline
// before dispatch and appends the result to history as a pinned tool message
// that the budget engine never compresses; Execute exists only to satisfy the
// interface.
type Recall struct{}

func NewRecall() *Recall { return &Recall{} }

func (t *Recall) Name() string { return "recall" }

func (t *Recall) Description() string {
	return "Retrieve the full output of a previous tool call that was summarised in history. " +
		"Pass tool_call_id, or tool_name for the most recent result of that tool."
}

func (t *Recall) InputSchema() map[string]any {
	return schema(map[string]any{
		"tool_call_id": map[string]any{
			"type":        "string",
			"description": "ID of the result to retrieve",
		},
		"tool_name": map[string]any{
			"type":        "string",
			"description": "Tool name (fallback — retrieves the most recent result)",
		},
	})
}

func (t *Recall) Execute(context.Context, map[string]any) (string, error) {
	return "", fmt.Errorf("recall: handled inline by the agent loop")
}
