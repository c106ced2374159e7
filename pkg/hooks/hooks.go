// Package hooks runs lifecycle shell commands: after edits (output injected
// into the model's context so it sees compile errors immediately), after
// tasks, after plan steps, and at session start/end.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// Timeout bounds each hook command.
	Timeout = 30 * time.Second
	// MaxLines caps hook output before it is appended to context.
	MaxLines = 50
)

// Config holds the commands per lifecycle event.
type Config struct {
	// OnEdit runs after every successful mutating tool call. Output is
	// injected into the model's tool result so it can self-correct.
	OnEdit []string `toml:"on_edit"`
	// OnTaskDone runs after the agent loop completes (UI only).
	OnTaskDone []string `toml:"on_task_done"`
	// OnPlanStepDone runs after each plan step passes.
	OnPlanStepDone []string `toml:"on_plan_step_done"`
	// OnSessionStart runs when pare starts a session, in every mode.
	OnSessionStart []string `toml:"on_session_start"`
	// OnSessionEnd runs when that session closes.
	OnSessionEnd []string `toml:"on_session_end"`
}

// IsEmpty reports whether no hooks are configured at all.
func (c Config) IsEmpty() bool {
	return len(c.OnEdit) == 0 && len(c.OnTaskDone) == 0 &&
		len(c.OnPlanStepDone) == 0 && len(c.OnSessionStart) == 0 &&
		len(c.OnSessionEnd) == 0
}

// Summary is a one-line listing of active hooks for startup display.
func (c Config) Summary() string {
	var parts []string
	add := func(label string, cmds []string) {
		if len(cmds) > 0 {
			parts = append(parts, label+": "+strings.Join(cmds, ", "))
		}
	}
	add("on_edit", c.OnEdit)
	add("on_task_done", c.OnTaskDone)
	add("on_plan_step_done", c.OnPlanStepDone)
	add("on_session_start", c.OnSessionStart)
	add("on_session_end", c.OnSessionEnd)
	return strings.Join(parts, "  ·  ")
}

// Result is the outcome of a single hook command.
type Result struct {
	// Output is the merged, truncated stdout+stderr.
	Output   string
	ExitCode int
}

// Run executes one hook command via `sh -c`, merging stdout and stderr and
// capping the output at MaxLines.
func Run(ctx context.Context, command string) Result {
	runCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, "sh", "-c", command).CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Output: fmt.Sprintf("[hook timed out after %s]", Timeout), ExitCode: -1}
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return Result{Output: fmt.Sprintf("[hook failed to start: %v]", err), ExitCode: -1}
		}
	}

	text := strings.TrimRight(string(out), "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > MaxLines {
		text = strings.Join(lines[:MaxLines], "\n") +
			fmt.Sprintf("\n[+%d lines truncated]", len(lines)-MaxLines)
	}
	return Result{Output: text, ExitCode: exitCode}
}

// FormatForContext renders a hook result the way it is appended to a tool
// message body: marker, command, exit code, output.
func FormatForContext(command string, r Result) string {
	if r.ExitCode == 0 && strings.TrimSpace(r.Output) == "" {
		return fmt.Sprintf("\n\n⚙ `%s` ✓", command)
	}
	return fmt.Sprintf("\n\n⚙ `%s` (exit %d):\n%s", command, r.ExitCode, r.Output)
}

// Detect scans the working directory for project markers and returns default
// hooks for the detected toolchain. Empty when nothing is recognized.
func Detect() Config {
	exists := func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	}
	switch {
	case exists("Cargo.toml"):
		return Config{
			OnEdit:     []string{"cargo check -q"},
			OnTaskDone: []string{"cargo test -q 2>&1 | tail -5"},
		}
	case exists("tsconfig.json"):
		return Config{OnEdit: []string{"tsc --noEmit"}}
	case exists("go.mod"):
		return Config{OnEdit: []string{"go build ./..."}}
	case exists("pyproject.toml") || exists("setup.py"):
		if _, err := exec.LookPath("ruff"); err == nil {
			return Config{OnEdit: []string{"ruff check ."}}
		}
	}
	return Config{}
}
