package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nstogner/pare/pkg/cache"
	"github.com/nstogner/pare/pkg/index"
)

const (
	// defaultMaxLines is the largest file returned whole without an
	// explicit range.
	defaultMaxLines = 150
	// preambleLines and tailLines bound the smart excerpt for large files.
	preambleLines = 50
	tailLines     = 20
)

// ReadFile reads workspace files with hash-prefixed line numbers. Full-file
// reads populate the session cache; repeat reads are served from it with an
// age note.
type ReadFile struct {
	cache *cache.Cache
}

func NewReadFile(c *cache.Cache) *ReadFile { return &ReadFile{cache: c} }

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read a file with line numbers. Returns up to 150 lines by default; " +
		"pass line_range for a specific section; pass symbols=true to get a " +
		"function/class index instead of content. Each content line is prefixed " +
		"`N#hhhh: ` — the 4-char hash is the anchor for edit_file."
}

func (t *ReadFile) InputSchema() map[string]any {
	return schema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "File path to read",
		},
		"line_range": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "integer"},
			"description": "Optional [start, end] (1-indexed, inclusive)",
		},
		"symbols": map[string]any{
			"type": "boolean",
			"description": "Return a symbol index (functions, classes, structs) " +
				"instead of file content. Useful for navigating large files.",
		},
	}, "path")
}

func (t *ReadFile) Execute(_ context.Context, input map[string]any) (string, error) {
	path := stringArg(input, "path")
	if path == "" {
		return "", fmt.Errorf("read_file: missing 'path'")
	}
	wantSymbols := boolArg(input, "symbols")
	lineRange, hasRange := rangeArg(input)

	// The cache only serves and stores full-content reads; ranged and
	// symbol reads are navigation, not content.
	fullRead := !hasRange && !wantSymbols
	if fullRead && t.cache != nil {
		if hit, ok := t.cache.Check(path); ok {
			return hit.Message(), nil
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("read_file: '%s' not found", path)
		}
		return "", fmt.Errorf("read_file: cannot stat '%s': %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read_file: '%s' is a directory, not a file — use list_files", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_file: cannot read '%s': %w", path, err)
	}
	content := string(data)
	lines := splitLines(content)
	total := len(lines)

	if wantSymbols {
		return symbolView(path, content, total), nil
	}

	if hasRange {
		start := clamp(lineRange[0]-1, 0, max(total-1, 0))
		end := clamp(lineRange[1], start, total)
		return formatExcerpt(path, lines, start, end, total), nil
	}

	var out string
	if total <= defaultMaxLines {
		out = formatFull(path, lines, total)
	} else {
		out = formatSmartExcerpt(path, lines, total)
	}
	if fullRead && t.cache != nil {
		t.cache.Store(path, out)
	}
	return out, nil
}

func symbolView(path, content string, total int) string {
	syms := index.Extract(content, path)
	if len(syms) == 0 {
		return fmt.Sprintf("[%s — %d lines. No top-level symbols found. Use line_range to read sections.]\n", path, total)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s — %d lines. Symbol index:]\n\n", path, total)
	for _, s := range syms {
		fmt.Fprintf(&b, "%4d | %s %s\n", s.Line, s.Kind, s.Name)
	}
	b.WriteString("\nUse line_range=[start,end] to read any section.\n")
	return b.String()
}

func formatFull(path string, lines []string, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s — %d lines total]\n\n", path, total)
	for i, l := range lines {
		b.WriteString(cache.FormatLine(i+1, l))
	}
	return b.String()
}

func formatExcerpt(path string, lines []string, start, end, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s — lines %d-%d of %d]\n\n", path, start+1, end, total)
	for i := start; i < end; i++ {
		b.WriteString(cache.FormatLine(i+1, lines[i]))
	}
	return b.String()
}

// formatSmartExcerpt returns the preamble (imports, declarations) and tail
// of a large file with an omission marker between.
func formatSmartExcerpt(path string, lines []string, total int) string {
	preEnd := min(preambleLines, total)
	tailStart := max(total-tailLines, preEnd)

	var b strings.Builder
	fmt.Fprintf(&b,
		"[%s — %d lines total. Showing preamble (1-%d) and tail (%d-%d). "+
			"Use symbols=true to find definitions, or line_range=[start,end] to read a section.]\n\n",
		path, total, preEnd, tailStart+1, total)
	for i := 0; i < preEnd; i++ {
		b.WriteString(cache.FormatLine(i+1, lines[i]))
	}
	if tailStart > preEnd {
		fmt.Fprintf(&b, "\n     ... (%d lines omitted) ...\n\n", tailStart-preEnd)
	}
	for i := tailStart; i < total; i++ {
		b.WriteString(cache.FormatLine(i+1, lines[i]))
	}
	return b.String()
}

func rangeArg(input map[string]any) ([2]int, bool) {
	arr, ok := input["line_range"].([]any)
	if !ok || len(arr) < 2 {
		return [2]int{}, false
	}
	start, sok := toInt(arr[0])
	end, eok := toInt(arr[1])
	if !sok || !eok {
		return [2]int{}, false
	}
	return [2]int{start, end}, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
