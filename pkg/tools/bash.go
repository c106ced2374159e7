package tools

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nstogner/pare/pkg/cache"
)

const (
	// defaultBashTimeout applies when the model passes no timeout.
	defaultBashTimeout = 30 * time.Second
	// maxBashLines bounds the inline output.
	maxBashLines = 200
	// maxDiagnosticLines is how many error-ish lines survive truncation
	// even when the surrounding output is dropped.
	maxDiagnosticLines = 20
)

// diagnosticRe marks lines worth keeping through truncation.
var diagnosticRe = regexp.MustCompile(`(?i)error:|FAILED|panic|warning:`)

// Bash runs shell commands with a timeout and cooperative cancellation.
// Commands that mention a cached path invalidate that cache entry, since
// `sed -i` and friends mutate files behind the tool layer.
type Bash struct {
	cache *cache.Cache
	// MaxTimeout is the absolute ceiling a model-supplied timeout may reach.
	MaxTimeout time.Duration
}

func NewBash(c *cache.Cache) *Bash {
	return &Bash{cache: c, MaxTimeout: 10 * time.Minute}
}

func (t *Bash) Name() string { return "bash" }

func (t *Bash) Description() string {
	return "Run a shell command. Returns stdout and stderr with the exit status. Avoid interactive commands."
}

func (t *Bash) InputSchema() map[string]any {
	return schema(map[string]any{
		"command": map[string]any{
			"type": "string",
		},
		"timeout_ms": map[string]any{
			"type":        "integer",
			"description": "Default: 30000",
		},
	}, "command")
}

func (t *Bash) Execute(ctx context.Context, input map[string]any) (string, error) {
	command := stringArg(input, "command")
	if command == "" {
		return "", fmt.Errorf("bash: missing 'command'")
	}

	timeout := defaultBashTimeout
	if ms := intArg(input, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	if t.MaxTimeout > 0 && timeout > t.MaxTimeout {
		timeout = t.MaxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()

	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("[exit code: -1]\n[timed out after %s — command did not complete]", timeout), nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	exitCode := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		} else {
			return "", fmt.Errorf("bash: failed to run '%s': %w", command, err)
		}
	}

	if t.cache != nil {
		t.cache.InvalidateIfMentioned(command)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[exit code: %d]\n", exitCode)
	b.WriteString(truncateOutput(string(out)))
	return b.String(), nil
}

// truncateOutput keeps at most maxBashLines lines, preserving up to
// maxDiagnosticLines error/failure/panic/warning lines even when their
// neighbors are dropped.
func truncateOutput(out string) string {
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return "[no output]"
	}
	lines := strings.Split(out, "\n")
	if len(lines) <= maxBashLines {
		return out
	}

	kept := append([]string{}, lines[:maxBashLines]...)

	// Rescue diagnostic lines from the dropped region.
	var rescued []string
	for _, l := range lines[maxBashLines:] {
		if diagnosticRe.MatchString(l) {
			rescued = append(rescued, l)
			if len(rescued) >= maxDiagnosticLines {
				break
			}
		}
	}

	dropped := len(lines) - maxBashLines - len(rescued)
	var b strings.Builder
	b.WriteString(strings.Join(kept, "\n"))
	if len(rescued) > 0 {
		fmt.Fprintf(&b, "\n[... %d lines omitted; diagnostic lines retained below ...]\n", dropped)
		b.WriteString(strings.Join(rescued, "\n"))
	} else {
		fmt.Fprintf(&b, "\n[+%d lines truncated — use a more specific command to reduce output]", dropped)
	}
	return b.String()
}
