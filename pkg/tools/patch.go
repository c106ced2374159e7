package tools

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nstogner/pare/pkg/cache"
)

// PatchFile applies a unified diff. More token-efficient than edit_file for
// multi-hunk changes: the model sends only the changed lines. Hunk headers
// are location hints only — each hunk is located by matching its context
// lines with the same fuzzy cascade as edit_file. Application is atomic:
// either every hunk applies or the file is untouched.
type PatchFile struct {
	cache *cache.Cache
}

func NewPatchFile(c *cache.Cache) *PatchFile { return &PatchFile{cache: c} }

func (t *PatchFile) Name() string { return "patch_file" }

func (t *PatchFile) Description() string {
	return "Apply a unified diff patch to a file. Use edit_file for single-location " +
		"changes; use patch_file when modifying multiple separate locations in the " +
		"same file.\n\nPatch format — standard unified diff:\n" +
		"@@ -15,4 +15,6 @@\n fn validate(token string) error {\n-\treturn nil\n+\treturn check(token)\n }\n" +
		"Rules:\n- Lines starting with ' ' are context (used for anchoring)\n" +
		"- '-' lines are removed, '+' lines are added\n" +
		"- @@ line numbers are hints only — the actual location is found by matching context lines\n" +
		"- Omit the '--- a/' and '+++ b/' headers; start directly with @@"
}

func (t *PatchFile) InputSchema() map[string]any {
	return schema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "File path to patch",
		},
		"patch": map[string]any{
			"type":        "string",
			"description": "Unified diff patch string. Must contain at least one @@ hunk header.",
		},
		"anchor": map[string]any{
			"type":        "string",
			"description": "Optional 4-char hash of the first context line of the first hunk, from a read_file prefix",
		},
	}, "path", "patch")
}

// HunkError reports which hunk failed to locate and how far application got.
type HunkError struct {
	Index   int // 1-based index of the failing hunk
	Total   int
	Applied int
	Reason  string
}

func (e *HunkError) Error() string {
	return fmt.Sprintf("HunkNotFound: hunk %d/%d failed — %s\n(%d of %d hunks matched before this failure; nothing was written)",
		e.Index, e.Total, e.Reason, e.Applied, e.Total)
}

func (t *PatchFile) Execute(_ context.Context, input map[string]any) (string, error) {
	path := stringArg(input, "path")
	if path == "" {
		return "", fmt.Errorf("patch_file: missing 'path'")
	}
	patch := stringArg(input, "patch")
	if patch == "" {
		return "", fmt.Errorf("patch_file: missing 'patch'")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("patch_file: cannot read '%s': %w", path, err)
	}
	content := string(data)

	hunks := parseHunks(patch)
	if len(hunks) == 0 {
		return "", fmt.Errorf("patch_file: no @@ hunk headers found in patch")
	}

	if anchorRaw := stringArg(input, "anchor"); anchorRaw != "" {
		if line := firstContextLine(hunks[0]); line != "" {
			if err := checkAnchor(content, line, anchorRaw); err != nil {
				return "", err
			}
		}
	}

	// Apply all hunks against an in-memory copy; write only on full success.
	current := content
	for i, hunk := range hunks {
		next, reason := applyHunk(current, hunk)
		if reason != "" {
			return "", &HunkError{Index: i + 1, Total: len(hunks), Applied: i, Reason: reason}
		}
		current = next
	}

	if err := os.WriteFile(path, []byte(current), 0o644); err != nil {
		return "", fmt.Errorf("patch_file: cannot write '%s': %w", path, err)
	}
	if t.cache != nil {
		t.cache.Invalidate(path)
	}

	anchorLine := hunkResultLine(current, hunks[len(hunks)-1])
	return fmt.Sprintf("✓ Patched %s (%d/%d hunks applied)%s",
		path, len(hunks), len(hunks), postEditContext(path, anchorLine, 8)), nil
}

// hunk is one @@ block: the lines that must be present (context + removals,
// in order) and the additions that replace the removal runs.
type hunk struct {
	before    []hunkLine
	additions []string
	lineHint  int // 0-based search start from the @@ header
}

type hunkLine struct {
	text    string
	removal bool
}

func parseHunks(patch string) []hunk {
	var hunks []hunk
	var current *hunk

	for _, line := range strings.Split(strings.TrimSuffix(patch, "\n"), "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ ") {
			continue
		}
		if strings.HasPrefix(line, "@@") {
			if current != nil {
				hunks = append(hunks, *current)
			}
			current = &hunk{lineHint: parseHunkStart(line) - 1}
			continue
		}
		if current == nil {
			continue
		}
		switch {
		case strings.HasPrefix(line, "-"):
			current.before = append(current.before, hunkLine{text: line[1:], removal: true})
		case strings.HasPrefix(line, "+"):
			current.additions = append(current.additions, line[1:])
		default:
			current.before = append(current.before, hunkLine{text: strings.TrimPrefix(line, " ")})
		}
	}
	if current != nil {
		hunks = append(hunks, *current)
	}
	return hunks
}

// parseHunkStart extracts the old-file start line from "@@ -N,n +M,m @@".
func parseHunkStart(header string) int {
	for _, field := range strings.Fields(header) {
		if !strings.HasPrefix(field, "-") {
			continue
		}
		numStr, _, _ := strings.Cut(field[1:], ",")
		if n, err := strconv.Atoi(numStr); err == nil {
			return n
		}
	}
	return 1
}

func firstContextLine(h hunk) string {
	for _, l := range h.before {
		if !l.removal {
			return l.text
		}
	}
	return ""
}

// applyHunk locates the hunk's needle in content and splices in the
// replacement. Returns the new content, or a non-empty reason on failure.
func applyHunk(content string, h hunk) (string, string) {
	if len(h.before) == 0 && len(h.additions) == 0 {
		return content, ""
	}
	fileLines := splitLines(content)

	needle := make([]string, len(h.before))
	for i, l := range h.before {
		needle[i] = l.text
	}

	if len(needle) == 0 {
		// Pure insertion — the hint decides the position.
		at := clamp(h.lineHint, 0, len(fileLines))
		out := append([]string{}, fileLines[:at]...)
		out = append(out, h.additions...)
		out = append(out, fileLines[at:]...)
		return joinPreserving(out, content), ""
	}

	start, found := findNeedle(fileLines, needle, h.lineHint)
	if !found {
		var expect strings.Builder
		for _, l := range needle {
			expect.WriteString("  " + l + "\n")
		}
		return "", fmt.Sprintf(
			"context lines not found in file.\nExpected to find:\n%sFile content near hint (line %d):\n%s",
			expect.String(), h.lineHint+1, contextWindow(fileLines, h.lineHint, 6))
	}

	// Re-interleave: keep context lines; replace removal runs with the
	// additions at the first removal position.
	var replacement []string
	addIdx := 0
	for i := 0; i < len(h.before); {
		if !h.before[i].removal {
			replacement = append(replacement, h.before[i].text)
			i++
			continue
		}
		for i < len(h.before) && h.before[i].removal {
			i++
		}
		for addIdx < len(h.additions) {
			replacement = append(replacement, h.additions[addIdx])
			addIdx++
		}
	}
	for addIdx < len(h.additions) {
		replacement = append(replacement, h.additions[addIdx])
		addIdx++
	}

	out := append([]string{}, fileLines[:start]...)
	out = append(out, replacement...)
	out = append(out, fileLines[start+len(needle):]...)
	return joinPreserving(out, content), ""
}

// findNeedle searches with the edit_file cascade: exact, then
// whitespace-trimmed. Multiple candidates resolve to the one closest to the
// hint.
func findNeedle(fileLines, needle []string, hint int) (int, bool) {
	exact := collectMatches(fileLines, needle, func(a, b string) bool { return a == b })
	if len(exact) == 1 {
		return exact[0], true
	}
	fuzzy := collectMatches(fileLines, needle, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	})
	candidates := exact
	if len(candidates) == 0 {
		candidates = fuzzy
	}
	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if abs(c-hint) < abs(best-hint) {
			best = c
		}
	}
	return best, true
}

func collectMatches(fileLines, needle []string, eq func(a, b string) bool) []int {
	var out []int
	n := len(needle)
outer:
	for start := 0; start+n <= len(fileLines); start++ {
		for i := range needle {
			if !eq(fileLines[start+i], needle[i]) {
				continue outer
			}
		}
		out = append(out, start)
	}
	return out
}

// hunkResultLine finds the approximate position of an applied hunk in the
// patched content for the context echo.
func hunkResultLine(content string, h hunk) int {
	fileLines := splitLines(content)
	var needle []string
	for _, l := range h.before {
		if !l.removal {
			needle = append(needle, l.text)
		}
		if len(needle) == 3 {
			break
		}
	}
	if len(needle) == 0 {
		return h.lineHint + 1
	}
	matches := collectMatches(fileLines, needle, func(a, b string) bool {
		return strings.TrimSpace(a) == strings.TrimSpace(b)
	})
	if len(matches) == 0 {
		return h.lineHint + 1
	}
	return matches[0] + 1
}

// joinPreserving joins lines, keeping the original trailing-newline state.
func joinPreserving(lines []string, original string) string {
	out := strings.Join(lines, "\n")
	if strings.HasSuffix(original, "\n") {
		out += "\n"
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
