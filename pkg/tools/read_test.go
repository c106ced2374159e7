package tools_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/tools"
)

var linePrefixRe = regexp.MustCompile(`^\d+#[0-9a-z]{4}: `)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFileLinePrefixes(t *testing.T) {
	path := writeTemp(t, "a.go", "package main\n\nfunc main() {}\n")
	read := tools.NewReadFile(cache.New())

	out, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	content := 0
	for _, l := range lines {
		if linePrefixRe.MatchString(l) {
			content++
		}
	}
	assert.Equal(t, 3, content)
	assert.Contains(t, lines[0], "3 lines total")
}

func TestReadFileUnicodeSafe(t *testing.T) {
	path := writeTemp(t, "uni.py", "def 日本語():\n    return \"héllo wörld 🚀\"\n")
	read := tools.NewReadFile(cache.New())

	out, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Contains(t, out, "日本語")
	assert.Contains(t, out, "🚀")
}

func TestReadFileNotFound(t *testing.T) {
	read := tools.NewReadFile(cache.New())
	_, err := read.Execute(context.Background(), map[string]any{"path": "/does/not/exist.go"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadFileDirectory(t *testing.T) {
	read := tools.NewReadFile(cache.New())
	_, err := read.Execute(context.Background(), map[string]any{"path": t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestReadFileRange(t *testing.T) {
	var content strings.Builder
	for i := 1; i <= 20; i++ {
		content.WriteString(strings.Repeat("x", i) + "\n")
	}
	path := writeTemp(t, "r.txt", content.String())
	read := tools.NewReadFile(cache.New())

	out, err := read.Execute(context.Background(), map[string]any{
		"path":       path,
		"line_range": []any{float64(5), float64(8)},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "lines 5-8 of 20")
	assert.Contains(t, out, "5#")
	assert.NotContains(t, out, "9#")
}

func TestReadFileSmartExcerpt(t *testing.T) {
	var content strings.Builder
	for i := 0; i < 300; i++ {
		content.WriteString("line\n")
	}
	path := writeTemp(t, "big.txt", content.String())
	read := tools.NewReadFile(cache.New())

	out, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Contains(t, out, "300 lines total")
	assert.Contains(t, out, "lines omitted")
	assert.Contains(t, out, "281#")
	assert.NotContains(t, out, "100#")
}

func TestReadFileSymbols(t *testing.T) {
	path := writeTemp(t, "sym.go", "package p\n\nfunc Alpha() {}\n\ntype Beta struct{}\n")
	read := tools.NewReadFile(cache.New())

	out, err := read.Execute(context.Background(), map[string]any{"path": path, "symbols": true})
	require.NoError(t, err)
	assert.Contains(t, out, "Symbol index")
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, "Beta")
}

func TestReadFileCacheHit(t *testing.T) {
	c := cache.New()
	path := writeTemp(t, "c.txt", "cached content\n")
	read := tools.NewReadFile(c)

	first, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.NotContains(t, first, "cached version")

	second, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Contains(t, second, "Returning cached version")
}

func TestReadFileCacheInvalidatedByWrite(t *testing.T) {
	c := cache.New()
	path := writeTemp(t, "w.txt", "the before contents\n")
	read := tools.NewReadFile(c)
	edit := tools.NewEditFile(c)

	_, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)

	_, err = edit.Execute(context.Background(), map[string]any{
		"path":    path,
		"old_str": "the before contents",
		"new_str": "the after contents",
	})
	require.NoError(t, err)

	// Next read sees filesystem content, not the cache.
	out, err := read.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.NotContains(t, out, "Returning cached version")
	assert.Contains(t, out, "the after contents")
}
