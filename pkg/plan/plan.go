// Package plan implements the plan/execute engine: a scaffold-owned state
// machine that decomposes a task into isolated steps, each running with a
// fresh, minimal context and carrying a structured summary forward.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Status is the plan lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReviewing Status = "reviewing"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// StepStatus is the per-step lifecycle: Pending → Running → Passed|Failed.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepPassed  StepStatus = "passed"
	StepFailed  StepStatus = "failed"
)

// VerifyKind selects the post-step verification.
type VerifyKind string

const (
	VerifyNone          VerifyKind = "none"
	VerifyFileChanged   VerifyKind = "file_changed"
	VerifyPatternAbsent VerifyKind = "pattern_absent"
	VerifyCommand       VerifyKind = "command"
	VerifyBuild         VerifyKind = "build"
)

// Verification declares how a step proves it succeeded.
type Verification struct {
	Kind    VerifyKind `json:"kind"`
	Path    string     `json:"path,omitempty"`
	Paths   []string   `json:"paths,omitempty"`
	Pattern string     `json:"pattern,omitempty"`
	Command string     `json:"command,omitempty"`
}

// Step is one isolated unit of work.
type Step struct {
	// Description is the human-readable one-liner shown during review.
	Description string `json:"description"`
	// Instruction is the model-facing task — the step's entire context.
	Instruction string `json:"instruction"`
	// Files lists the context files, as symbol names or paths; symbol names
	// are resolved against the index at generation time.
	Files  []string     `json:"files"`
	Verify Verification `json:"verify"`
	Status StepStatus   `json:"status"`
	// ToolBudget is the hard cap on tool calls for this step.
	ToolBudget int `json:"tool_budget"`
	// Approved is set during review; only approved steps execute.
	Approved bool `json:"approved"`
	// UserAnnotation is appended to the instruction as "User note: …".
	UserAnnotation string `json:"user_annotation,omitempty"`
	// CarryForwardSummary is the deterministic digest of what the step
	// changed, injected into subsequent steps' preambles.
	CarryForwardSummary string `json:"carry_forward_summary,omitempty"`
}

// EffectiveInstruction is what the model sees: instruction + user note.
func (s *Step) EffectiveInstruction() string {
	note := strings.TrimSpace(s.UserAnnotation)
	if note == "" {
		return s.Instruction
	}
	return s.Instruction + "\n\nUser note: " + note
}

// Plan is a user-approved, scaffold-owned sequence of steps.
type Plan struct {
	Task  string `json:"task"`
	Steps []Step `json:"steps"`
	// CurrentIndex only advances past a Passed step.
	CurrentIndex int    `json:"current_index"`
	Status       Status `json:"status"`
	CreatedAt    int64  `json:"created_at"`
	ProjectRoot  string `json:"project_root"`
}

func New(task string, steps []Step, projectRoot string) *Plan {
	return &Plan{
		Task:        task,
		Steps:       steps,
		Status:      StatusDraft,
		CreatedAt:   time.Now().Unix(),
		ProjectRoot: projectRoot,
	}
}

// StartReview moves a draft into review.
func (p *Plan) StartReview() error {
	if p.Status != StatusDraft {
		return fmt.Errorf("plan is %s, not draft", p.Status)
	}
	p.Status = StatusReviewing
	return nil
}

// Annotate attaches a user note to a step under review.
func (p *Plan) Annotate(stepIdx int, note string) error {
	if stepIdx < 0 || stepIdx >= len(p.Steps) {
		return fmt.Errorf("no step %d", stepIdx)
	}
	p.Steps[stepIdx].UserAnnotation = note
	return nil
}

// ApproveStep marks one step approved during review.
func (p *Plan) ApproveStep(stepIdx int) error {
	if stepIdx < 0 || stepIdx >= len(p.Steps) {
		return fmt.Errorf("no step %d", stepIdx)
	}
	p.Steps[stepIdx].Approved = true
	return nil
}

// MoveStep reorders a pending step during review.
func (p *Plan) MoveStep(from, to int) error {
	if from < 0 || from >= len(p.Steps) || to < 0 || to >= len(p.Steps) {
		return fmt.Errorf("move out of range")
	}
	step := p.Steps[from]
	rest := append(p.Steps[:from:from], p.Steps[from+1:]...)
	p.Steps = append(rest[:to:to], append([]Step{step}, rest[to:]...)...)
	return nil
}

// FinishReview promotes a reviewed plan to ready once every step has been
// individually approved.
func (p *Plan) FinishReview() error {
	if p.Status != StatusReviewing {
		return fmt.Errorf("plan is %s, not reviewing", p.Status)
	}
	for i, s := range p.Steps {
		if !s.Approved {
			return fmt.Errorf("step %d is not approved", i+1)
		}
	}
	p.Status = StatusReady
	return nil
}

// PassedCount reports completed steps.
func (p *Plan) PassedCount() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StepPassed {
			n++
		}
	}
	return n
}

// PriorSummaries collects the carry-forward summaries of passed steps in
// order, for injection into the next step's preamble.
func (p *Plan) PriorSummaries() []string {
	var out []string
	for _, s := range p.Steps {
		if s.Status == StepPassed && s.CarryForwardSummary != "" {
			out = append(out, s.CarryForwardSummary)
		}
	}
	return out
}

// ── Cost estimation ──

// EstimateTokens returns a (low, high) token range for executing the plan:
// per step 500 + file_bytes/4 + len(instruction)/4, total scaled ×1.0–1.3
// for tool results and model responses.
func (p *Plan) EstimateTokens() (int, int) {
	raw := 0
	for _, step := range p.Steps {
		stepTokens := 500 + len([]rune(step.Instruction))/4
		for _, f := range step.Files {
			if data, err := os.ReadFile(filepath.Join(p.ProjectRoot, f)); err == nil {
				stepTokens += len(data) / 4
			} else {
				stepTokens += 1000
			}
		}
		raw += stepTokens
	}
	return raw, raw * 13 / 10
}

// EstimateDisplay formats the cost estimate for review, with USD when a
// per-Mtok rate is configured.
func (p *Plan) EstimateDisplay(costPerMtok float64) string {
	low, high := p.EstimateTokens()
	fmtK := func(n int) string {
		if n >= 1000 {
			return fmt.Sprintf("%dk", n/1000)
		}
		return fmt.Sprintf("%d", n)
	}
	out := fmt.Sprintf("est. %s–%s tokens", fmtK(low), fmtK(high))
	if costPerMtok > 0 {
		usdLow := float64(low) / 1e6 * costPerMtok
		usdHigh := float64(high) / 1e6 * costPerMtok
		if usdHigh < 0.01 {
			out += "  ·  <$0.01"
		} else {
			out += fmt.Sprintf("  ·  ~$%.2f–$%.2f", usdLow, usdHigh)
		}
	}
	return out
}

// ── Persistence ──

// Dir is the workspace-relative directory holding saved plans.
func Dir(root string) string { return filepath.Join(root, ".pare", "plans") }

// Save writes the machine-readable serialization to
// .pare/plans/<timestamp>-plan.json and refreshes .pare/plan.md.
func Save(p *Plan) (string, error) {
	dir := Dir(p.ProjectRoot)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating plans dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d-plan.json", p.CreatedAt))
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing plan: %w", err)
	}
	writeMarkdown(p)
	return path, nil
}

// Load reads a plan back from disk.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &p, nil
}

// FindLatest returns the most recent saved plan path, or "".
func FindLatest(root string) string {
	entries, err := os.ReadDir(Dir(root))
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return filepath.Join(Dir(root), names[0])
}

// writeMarkdown renders the human-readable plan to .pare/plan.md,
// overwriting the previous one. Best-effort: a disk error must never crash
// planning.
func writeMarkdown(p *Plan) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Plan: %s\n\n", p.Task)
	for i, step := range p.Steps {
		fmt.Fprintf(&b, "## Step %d: %s\n\n", i+1, step.Description)
		fmt.Fprintf(&b, "%s\n\n", step.Instruction)
		if len(step.Files) > 0 {
			fmt.Fprintf(&b, "**Files:** %s\n\n", strings.Join(step.Files, ", "))
		}
		if v := describeVerification(step.Verify); v != "" {
			fmt.Fprintf(&b, "**Verify:** %s\n\n", v)
		}
	}
	b.WriteString("---\n*Generated by pare — annotate steps in the TUI, then approve to execute.*\n")

	dir := filepath.Join(p.ProjectRoot, ".pare")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	os.WriteFile(filepath.Join(dir, "plan.md"), []byte(b.String()), 0o644)
}

func describeVerification(v Verification) string {
	switch v.Kind {
	case VerifyFileChanged:
		return fmt.Sprintf("file changed: `%s`", v.Path)
	case VerifyPatternAbsent:
		return fmt.Sprintf("`%s` absent from %s", v.Pattern, strings.Join(v.Paths, ", "))
	case VerifyCommand:
		return fmt.Sprintf("`%s` exits 0", v.Command)
	case VerifyBuild:
		return "build succeeds"
	}
	return ""
}
