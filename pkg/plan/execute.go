package plan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nstogner/pare/pkg/budget"
	"github.com/nstogner/pare/pkg/hooks"
)

// StepRunner executes one step's instruction with a fresh agent history.
// The preamble carries the step's context; maxToolCalls is the step's hard
// tool budget. The plan engine never shares histories between steps.
type StepRunner func(ctx context.Context, instruction string, pre *budget.Preamble, maxToolCalls int) error

// ExecuteOptions parameterizes a plan execution.
type ExecuteOptions struct {
	Conventions  string
	Hooks        hooks.Config
	HooksEnabled bool
}

// Execute runs every approved pending step in order. Each step gets a fresh
// history containing only the preamble (conventions, step files, prior
// carry-forward summaries) and the step instruction. A failing step pauses
// the plan; the next invocation resumes from it.
func Execute(ctx context.Context, p *Plan, run StepRunner, opts ExecuteOptions) error {
	if p.Status != StatusReady && p.Status != StatusPaused {
		return fmt.Errorf("plan is %s — review and approve it first", p.Status)
	}
	p.Status = StatusRunning

	for p.CurrentIndex < len(p.Steps) {
		if err := ctx.Err(); err != nil {
			p.Status = StatusPaused
			persist(p)
			return err
		}

		step := &p.Steps[p.CurrentIndex]
		if step.Status == StepPassed {
			p.CurrentIndex++
			continue
		}
		if !step.Approved {
			p.Status = StatusPaused
			persist(p)
			return fmt.Errorf("step %d is not approved", p.CurrentIndex+1)
		}

		step.Status = StepRunning
		slog.Info("Plan step starting",
			"step", p.CurrentIndex+1,
			"of", len(p.Steps),
			"description", step.Description,
		)

		pre := &budget.Preamble{
			Conventions: opts.Conventions,
			Summaries:   p.PriorSummaries(),
		}
		for _, file := range step.Files {
			data, err := os.ReadFile(filepath.Join(p.ProjectRoot, file))
			if err != nil {
				// Non-fatal — the model will get an error if it reads it.
				slog.Warn("Could not pre-load step file", "file", file, "error", err)
				continue
			}
			pre.Attachments = append(pre.Attachments, budget.Attachment{
				Path:       file,
				Content:    string(data),
				AttachedAt: time.Now(),
			})
		}

		before := TakeSnapshot(p.ProjectRoot)

		runErr := run(ctx, step.EffectiveInstruction(), pre, step.ToolBudget)
		if runErr == nil {
			runErr = RunVerification(ctx, p.ProjectRoot, step.Verify, before)
		}

		if runErr != nil {
			step.Status = StepFailed
			p.Status = StatusPaused
			persist(p)
			return fmt.Errorf("step %d failed: %w", p.CurrentIndex+1, runErr)
		}

		after := TakeSnapshot(p.ProjectRoot)
		step.CarryForwardSummary = CarryForward(p.ProjectRoot, ChangedPaths(before, after), step.Description)
		step.Status = StepPassed
		p.CurrentIndex++
		persist(p)

		if opts.HooksEnabled {
			for _, cmd := range opts.Hooks.OnPlanStepDone {
				hr := hooks.Run(ctx, cmd)
				slog.Debug("on_plan_step_done hook", "command", cmd, "exit", hr.ExitCode)
			}
		}
	}

	p.Status = StatusDone
	persist(p)
	return nil
}

func persist(p *Plan) {
	if _, err := Save(p); err != nil {
		slog.Error("Failed to persist plan", "error", err)
	}
}
