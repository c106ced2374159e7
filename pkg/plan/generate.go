package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/index"
	"github.com/nstogner/pare/pkg/model"
)

// planSystemPrompt is the planner-specific prompt — tighter than the agent
// prompt, focused on structured output.
const planSystemPrompt = `You are pare, a coding assistant. Your task is to produce a structured execution plan as JSON.

The plan breaks a coding task into discrete, independently executable steps.

Rules for good plans:
- Each step should do exactly ONE thing (read, edit, verify — not all three)
- List only the files genuinely needed for that step in "files" (1-3 files per step is ideal)
- The "instruction" field is what the model will receive as its entire context — make it self-contained and precise
- Keep steps small: prefer 4-8 steps over 2 giant steps
- The last step should always verify the result (search, build check, or test run)

Respond with ONLY valid JSON — no markdown fences, no explanation. Format:

{
  "steps": [
    {
      "description": "human-readable one-liner shown to user",
      "instruction": "precise model-facing instruction with full context needed",
      "files": ["relative/path/to/file.go"],
      "verify": "none",
      "tool_budget": 5
    }
  ]
}

For "verify", use one of:
- "none" — no automated verification
- "build" — run the project's build and expect success
- "command:go test ./..." — run a specific command, expect exit 0
- "absent:file.go:old_pattern" — check a pattern no longer exists in a file
- "changed:file.go" — check the file was modified`

const defaultToolBudget = 8

type rawPlan struct {
	Steps []rawStep `json:"steps"`
}

type rawStep struct {
	Description string   `json:"description"`
	Instruction string   `json:"instruction"`
	Files       []string `json:"files"`
	Verify      string   `json:"verify"`
	ToolBudget  int      `json:"tool_budget"`
}

// Generate produces a plan with a single planner-model call. The prompt
// carries the compact symbol map so the model references real paths; symbol
// names in each step's files are resolved through the index afterwards.
// Malformed planner output surfaces as an error and leaves any prior plan
// untouched.
func Generate(ctx context.Context, provider model.Provider, plannerModel, task, root string, contextFiles []string) (*Plan, error) {
	ix := index.Build(root)

	var user strings.Builder
	if section := ix.ListCompact(60); section != "" {
		user.WriteString(section)
		user.WriteString("\n")
	}
	if len(contextFiles) > 0 {
		user.WriteString("The following files are available in this project:\n\n")
		for _, path := range contextFiles {
			data, err := os.ReadFile(filepath.Join(root, path))
			if err != nil {
				continue
			}
			lines := strings.Split(string(data), "\n")
			note := ""
			if len(lines) > 80 {
				note = fmt.Sprintf(" (%d lines total, showing first 80)", len(lines))
				lines = lines[:80]
			}
			fmt.Fprintf(&user, "[%s%s]\n%s\n\n", path, note, strings.Join(lines, "\n"))
		}
		user.WriteString("---\n\n")
	}
	fmt.Fprintf(&user, "Generate a plan to accomplish this task:\n\n%s", task)

	// No tools during planning — pure text response.
	resp, err := provider.Chat(ctx, model.Request{
		Model:  plannerModel,
		System: planSystemPrompt,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: user.String()},
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}

	raw, err := parsePlanJSON(resp.Text)
	if err != nil {
		return nil, err
	}
	if len(raw.Steps) == 0 {
		return nil, fmt.Errorf("plan generation: model returned an empty plan")
	}

	steps := make([]Step, 0, len(raw.Steps))
	for _, rs := range raw.Steps {
		budget := rs.ToolBudget
		if budget <= 0 {
			budget = defaultToolBudget
		}
		steps = append(steps, Step{
			Description: rs.Description,
			Instruction: rs.Instruction,
			Files:       ix.ResolveFiles(rs.Files),
			Verify:      parseVerification(rs.Verify),
			Status:      StepPending,
			ToolBudget:  budget,
		})
	}
	return New(task, steps, root), nil
}

func parsePlanJSON(text string) (*rawPlan, error) {
	trimmed := strings.TrimSpace(text)
	// Strip markdown fences if the model wrapped the JSON despite
	// instructions.
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var raw rawPlan
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("plan parse error: %w\n\nModel response:\n%s", err, trimmed)
	}
	return &raw, nil
}

// parseVerification decodes the planner's compact verify syntax.
func parseVerification(s string) Verification {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "none":
		return Verification{Kind: VerifyNone}
	case s == "build":
		return Verification{Kind: VerifyBuild}
	}
	if rest, ok := strings.CutPrefix(s, "command:"); ok {
		return Verification{Kind: VerifyCommand, Command: rest}
	}
	if rest, ok := strings.CutPrefix(s, "changed:"); ok {
		return Verification{Kind: VerifyFileChanged, Path: rest}
	}
	if rest, ok := strings.CutPrefix(s, "absent:"); ok {
		file, pattern, _ := strings.Cut(rest, ":")
		return Verification{Kind: VerifyPatternAbsent, Paths: []string{file}, Pattern: pattern}
	}
	return Verification{Kind: VerifyNone}
}
