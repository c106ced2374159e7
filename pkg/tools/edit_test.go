package tools_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/tools"
)

func editFile(t *testing.T, path string, input map[string]any) (string, error) {
	t.Helper()
	input["path"] = path
	return tools.NewEditFile(cache.New()).Execute(context.Background(), input)
}

func TestEditExactMatch(t *testing.T) {
	path := writeTemp(t, "f.go", "func greet() {\n\treturn \"hello\"\n}\n")

	out, err := editFile(t, path, map[string]any{
		"old_str": "return \"hello\"",
		"new_str": "return \"world\"",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Edited")
	assert.Contains(t, out, "after edit")

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "world")
	assert.NotContains(t, string(data), "hello")
}

func TestEditCorrectAnchorApplies(t *testing.T) {
	path := writeTemp(t, "x.txt", "hello world line\n")
	anchor := cache.LineHash("hello world line")

	_, err := editFile(t, path, map[string]any{
		"old_str": "hello world line",
		"new_str": "goodbye world line",
		"anchor":  anchor,
	})
	require.NoError(t, err)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "goodbye world line\n", string(data))
}

func TestEditStaleAnchorLeavesFileUnchanged(t *testing.T) {
	path := writeTemp(t, "x.txt", "hello world line\n")

	_, err := editFile(t, path, map[string]any{
		"old_str": "hello world line",
		"new_str": "goodbye world line",
		"anchor":  "zzzz",
	})
	require.Error(t, err)

	var stale *tools.StaleAnchorError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, 1, stale.Line)
	assert.Contains(t, err.Error(), "StaleAnchor at line 1")

	data, _ := os.ReadFile(path)
	assert.Equal(t, "hello world line\n", string(data))
}

func TestEditAnchorNormalization(t *testing.T) {
	path := writeTemp(t, "x.txt", "hello world line\n")
	anchor := cache.LineHash("hello world line")

	// Model copied the whole "N#hash" prefix — still accepted.
	_, err := editFile(t, path, map[string]any{
		"old_str": "hello world line",
		"new_str": "changed world line",
		"anchor":  "1#" + anchor,
	})
	require.NoError(t, err)
}

func TestEditAmbiguous(t *testing.T) {
	path := writeTemp(t, "dup.txt", "duplicate line\nmiddle\nduplicate line\n")

	_, err := editFile(t, path, map[string]any{
		"old_str": "duplicate line",
		"new_str": "changed line",
	})
	require.Error(t, err)

	var ambiguous *tools.AmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, 2, ambiguous.Count)
	// Context around candidates, not the whole file dump.
	assert.Contains(t, err.Error(), "exactly once")
}

func TestEditShortOldStrRejected(t *testing.T) {
	path := writeTemp(t, "s.txt", "some content here\n")
	_, err := editFile(t, path, map[string]any{
		"old_str": "}",
		"new_str": "} // done",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestEditCRLFNormalized(t *testing.T) {
	path := writeTemp(t, "crlf.txt", "first line\r\nsecond line\r\n")

	out, err := editFile(t, path, map[string]any{
		"old_str": "second line",
		"new_str": "changed line",
	})
	require.NoError(t, err)
	_ = out
	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "changed line")
}

func TestEditWhitespaceTrimmedTier(t *testing.T) {
	path := writeTemp(t, "ws.txt", "    line one here\n    line two here\n")

	out, err := editFile(t, path, map[string]any{
		"old_str": "line one here\nline two here",
		"new_str": "    replaced content line",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "fuzzy match")
	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "replaced content line")
}

func TestEditNotFoundGivesNearestContext(t *testing.T) {
	path := writeTemp(t, "nf.txt", "alpha beta gamma\ndelta epsilon\n")

	_, err := editFile(t, path, map[string]any{
		"old_str": "alpha beta GAMMA",
		"new_str": "replacement text",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "Nearest match around line 1")
}

func TestEditAppendMode(t *testing.T) {
	path := writeTemp(t, "ap.go", "package p\n")

	out, err := editFile(t, path, map[string]any{
		"new_str": "func Added() {}",
		"append":  true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Appended 1 lines")

	data, _ := os.ReadFile(path)
	assert.Equal(t, "package p\n\nfunc Added() {}\n", string(data))
}
