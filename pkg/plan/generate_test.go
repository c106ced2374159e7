package plan_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/model"
	"github.com/nstogner/pare/pkg/plan"
)

// textProvider returns one canned text response and records the request.
type textProvider struct {
	text    string
	lastReq model.Request
}

func (p *textProvider) Chat(_ context.Context, req model.Request, _ func(model.Delta)) (*model.Response, error) {
	p.lastReq = req
	return &model.Response{Text: p.text}, nil
}

const planJSON = `{
  "steps": [
    {
      "description": "add validation",
      "instruction": "Add validation to the token check",
      "files": ["validate_token", "src/new_file.rs"],
      "verify": "absent:src/auth.rs:unwrap",
      "tool_budget": 6
    },
    {
      "description": "check build",
      "instruction": "Verify everything compiles",
      "verify": "build"
    }
  ]
}`

func TestGenerateResolvesSymbolsAndParsesVerify(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "auth.rs"),
		[]byte("pub fn validate_token() {}\n"), 0o644))

	provider := &textProvider{text: planJSON}
	p, err := plan.Generate(context.Background(), provider, "planner-model", "do the thing", root, nil)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusDraft, p.Status)
	require.Len(t, p.Steps, 2)

	// Symbol name resolved to its defining file; unknown paths kept.
	assert.Equal(t, []string{filepath.Join("src", "auth.rs"), "src/new_file.rs"}, p.Steps[0].Files)
	assert.Equal(t, plan.VerifyPatternAbsent, p.Steps[0].Verify.Kind)
	assert.Equal(t, "unwrap", p.Steps[0].Verify.Pattern)
	assert.Equal(t, 6, p.Steps[0].ToolBudget)

	assert.Equal(t, plan.VerifyBuild, p.Steps[1].Verify.Kind)
	assert.Equal(t, 8, p.Steps[1].ToolBudget, "default tool budget")

	// The planner model and the symbol map both reach the request.
	assert.Equal(t, "planner-model", provider.lastReq.Model)
	require.Len(t, provider.lastReq.Messages, 1)
	assert.Equal(t, domain.RoleUser, provider.lastReq.Messages[0].Role)
	assert.Contains(t, provider.lastReq.Messages[0].Content, "Project symbol index")
	assert.Contains(t, provider.lastReq.Messages[0].Content, "validate_token")
}

func TestGenerateStripsMarkdownFences(t *testing.T) {
	provider := &textProvider{text: "```json\n" + planJSON + "\n```"}
	p, err := plan.Generate(context.Background(), provider, "m", "task", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)
}

func TestGenerateMalformedOutputIsError(t *testing.T) {
	provider := &textProvider{text: "Sure! Here is my plan in prose form."}
	_, err := plan.Generate(context.Background(), provider, "m", "task", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan parse error")
}

func TestGenerateEmptyPlanIsError(t *testing.T) {
	provider := &textProvider{text: `{"steps": []}`}
	_, err := plan.Generate(context.Background(), provider, "m", "task", t.TempDir(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty plan")
}
