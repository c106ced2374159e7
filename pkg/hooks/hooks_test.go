package hooks_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nstogner/pare/pkg/hooks"
)

func TestRunMergesStreamsAndExitCode(t *testing.T) {
	r := hooks.Run(context.Background(), "echo out; echo err >&2; exit 3")
	assert.Equal(t, 3, r.ExitCode)
	assert.Contains(t, r.Output, "out")
	assert.Contains(t, r.Output, "err")
}

func TestRunCapsOutput(t *testing.T) {
	r := hooks.Run(context.Background(), "for i in $(seq 1 200); do echo line $i; done")
	assert.Equal(t, 0, r.ExitCode)
	lines := strings.Split(r.Output, "\n")
	assert.LessOrEqual(t, len(lines), hooks.MaxLines+1)
	assert.Contains(t, r.Output, "truncated")
}

func TestFormatForContext(t *testing.T) {
	quiet := hooks.FormatForContext("go vet", hooks.Result{ExitCode: 0, Output: ""})
	assert.Contains(t, quiet, "⚙ `go vet` ✓")

	loud := hooks.FormatForContext("go build", hooks.Result{ExitCode: 1, Output: "main.go:3: undefined: x"})
	assert.Contains(t, loud, "exit 1")
	assert.Contains(t, loud, "undefined: x")
}

func TestConfigSummaryAndEmpty(t *testing.T) {
	assert.True(t, hooks.Config{}.IsEmpty())

	cfg := hooks.Config{OnEdit: []string{"go build ./..."}, OnTaskDone: []string{"go test ./..."}}
	assert.False(t, cfg.IsEmpty())
	sum := cfg.Summary()
	assert.Contains(t, sum, "on_edit: go build ./...")
	assert.Contains(t, sum, "on_task_done: go test ./...")
}

func TestDetectInEmptyDir(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.True(t, hooks.Detect().IsEmpty())
}
