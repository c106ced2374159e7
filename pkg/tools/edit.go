package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nstogner/pare/pkg/cache"
)

// EditFile performs anchored string replacement. Matching cascade, first
// success wins: exact → CRLF-normalized → per-line trim → per-line
// trim-right. An anchor (the hash from a read_file line prefix) detects
// files that shifted since they were read.
type EditFile struct {
	cache *cache.Cache
}

func NewEditFile(c *cache.Cache) *EditFile { return &EditFile{cache: c} }

func (t *EditFile) Name() string { return "edit_file" }

func (t *EditFile) Description() string {
	return "Edit a file. Two modes: (1) replace old_str with new_str — old_str " +
		"must be unique in the file; (2) pass append=true with new_str to add " +
		"content at the end of the file. On success, returns the file content " +
		"around the edit site with fresh line numbers and hashes — use these for " +
		"any follow-up edits without re-reading."
}

func (t *EditFile) InputSchema() map[string]any {
	return schema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "File path to edit",
		},
		"old_str": map[string]any{
			"type": "string",
			"description": "Exact string to find and replace. Must appear exactly once in the " +
				"file — include enough surrounding context to make it unique. Omit when using append=true.",
		},
		"new_str": map[string]any{
			"type":        "string",
			"description": "Replacement string (for old_str mode), or content to append (for append mode)",
		},
		"anchor": map[string]any{
			"type": "string",
			"description": "The 4-char hash from the read_file line prefix. From '42#a3f2: fn foo', " +
				"the anchor is 'a3f2'. Do NOT include the line number or the '#'.",
		},
		"append": map[string]any{
			"type": "boolean",
			"description": "If true, appends new_str to the end of the file. Use only for adding " +
				"content that belongs at the top level and does not yet exist.",
		},
	}, "path", "new_str")
}

// StaleAnchorError reports that the anchored line's content no longer hashes
// to the anchor the caller read. The file is left unchanged.
type StaleAnchorError struct {
	Line     int
	Expected string
	Actual   string
	Hint     string
}

func (e *StaleAnchorError) Error() string {
	return fmt.Sprintf(
		"StaleAnchor at line %d — expected hash '%s' but the content hashes to '%s'. "+
			"The file has changed since it was read; re-read it to get fresh anchors.\n%s",
		e.Line, e.Expected, e.Actual, e.Hint)
}

// AmbiguousError reports that old_str matched more than one location.
type AmbiguousError struct {
	Count   int
	Context string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf(
		"Ambiguous: old_str matches %d locations. It must match exactly once — add more "+
			"surrounding context to disambiguate. Candidates:\n%s", e.Count, e.Context)
}

func (t *EditFile) Execute(_ context.Context, input map[string]any) (string, error) {
	path := stringArg(input, "path")
	if path == "" {
		return "", fmt.Errorf("edit_file: missing 'path'")
	}
	newStr, ok := input["new_str"].(string)
	if !ok {
		return "", fmt.Errorf("edit_file: missing 'new_str'")
	}

	if boolArg(input, "append") {
		return t.appendMode(path, newStr)
	}

	oldStr, ok := input["old_str"].(string)
	if !ok {
		return "", fmt.Errorf("edit_file: missing 'old_str' (required unless append=true)")
	}
	if n := len(strings.TrimSpace(oldStr)); n < 8 {
		return "", fmt.Errorf(
			"edit_file: old_str is too short (%d chars after trimming). Short strings like "+
				"bare braces or keywords are almost always ambiguous — include at least one "+
				"full line of surrounding context", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("edit_file: cannot read '%s': %w", path, err)
	}
	content := string(data)

	if anchorRaw := stringArg(input, "anchor"); anchorRaw != "" {
		if err := checkAnchor(content, oldStr, anchorRaw); err != nil {
			return "", err
		}
	}

	span, label, err := findSpan(content, oldStr)
	if err != nil {
		return "", fmt.Errorf("edit_file: %w", err)
	}

	anchorLine := lineOfOffset(content, strings.Index(content, span))
	replaced := strings.Replace(content, span, newStr, 1)
	if err := os.WriteFile(path, []byte(replaced), 0o644); err != nil {
		return "", fmt.Errorf("edit_file: cannot write '%s': %w", path, err)
	}
	if t.cache != nil {
		t.cache.Invalidate(path)
	}

	note := ""
	if label != "" {
		note = fmt.Sprintf(" (fuzzy match — %s)", label)
	}
	return fmt.Sprintf("✓ Edited %s (1 replacement)%s%s",
		path, note, postEditContext(path, anchorLine, 10)), nil
}

func (t *EditFile) appendMode(path, newStr string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("edit_file: cannot read '%s': %w", path, err)
	}
	content := string(data)
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if !strings.HasSuffix(content, "\n\n") {
		content += "\n"
	}
	content += newStr
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("edit_file: cannot write '%s': %w", path, err)
	}
	if t.cache != nil {
		t.cache.Invalidate(path)
	}
	added := len(splitLines(newStr))
	startLine := len(splitLines(content)) - added + 1
	return fmt.Sprintf("✓ Appended %d lines to %s%s",
		added, path, postEditContext(path, startLine, 10)), nil
}

// checkAnchor verifies the first line of old_str still hashes to the anchor
// the caller read. On mismatch the edit is refused and the file untouched.
func checkAnchor(content, oldStr, anchorRaw string) error {
	anchor := normalizeAnchor(anchorRaw)
	firstLine, _, _ := strings.Cut(oldStr, "\n")
	actual := cache.LineHash(firstLine)
	if actual == anchor {
		return nil
	}

	// Report where that line sits now, with fresh hashes, so the model can
	// correct itself without a separate read.
	lines := splitLines(content)
	lineNo := 1
	var hint strings.Builder
	for i, l := range lines {
		if strings.TrimSpace(l) == strings.TrimSpace(firstLine) {
			lineNo = i + 1
			lo := max(i-3, 0)
			hi := min(i+4, len(lines))
			hint.WriteString("Current content near that line:\n")
			for j := lo; j < hi; j++ {
				hint.WriteString(cache.FormatLine(j+1, lines[j]))
			}
			break
		}
	}
	if hint.Len() == 0 {
		hint.WriteString("Re-read the file to get current hashes.")
	}
	return &StaleAnchorError{Line: lineNo, Expected: anchor, Actual: actual, Hint: hint.String()}
}

// normalizeAnchor reduces "[a3f2]", "42#a3f2", or "a3f2" to the bare hash.
func normalizeAnchor(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		return raw[1 : len(raw)-1]
	}
	if i := strings.LastIndexByte(raw, '#'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// findSpan locates old_str in content through the matching cascade. Returns
// the actual span as it appears in the file and a label for fuzzy tiers.
func findSpan(content, oldStr string) (span, label string, err error) {
	// Tier 1: exact match, must be unique.
	switch n := strings.Count(content, oldStr); {
	case n == 1:
		return oldStr, "", nil
	case n > 1:
		return "", "", &AmbiguousError{Count: n, Context: candidateContexts(content, oldStr, n)}
	}

	// Tier 2: CRLF normalization on both sides.
	contentLF := strings.ReplaceAll(content, "\r\n", "\n")
	oldLF := strings.ReplaceAll(oldStr, "\r\n", "\n")
	if contentLF != content {
		if strings.Count(contentLF, oldLF) == 1 {
			crlfSpan := strings.ReplaceAll(oldLF, "\n", "\r\n")
			if strings.Count(content, crlfSpan) == 1 {
				return crlfSpan, "CRLF normalized", nil
			}
		}
	}

	// Tier 3/4: per-line whitespace-normalized matches.
	if span, err := lineNormalizedMatch(content, oldStr, strings.TrimSpace); err != nil {
		return "", "", err
	} else if span != "" {
		return span, "whitespace trimmed", nil
	}
	trimRight := func(s string) string { return strings.TrimRight(s, " \t") }
	if span, err := lineNormalizedMatch(content, oldStr, trimRight); err != nil {
		return "", "", err
	} else if span != "" {
		return span, "trailing whitespace trimmed", nil
	}

	return "", "", fmt.Errorf(
		"string not found in file. Check whitespace and exact characters.\n%s",
		nearestMatchContext(content, oldStr))
}

// lineNormalizedMatch compares line-by-line after applying norm to both
// sides. Returns the original span when exactly one candidate exists; an
// AmbiguousError when several do.
func lineNormalizedMatch(content, oldStr string, norm func(string) string) (string, error) {
	oldLines := splitLines(oldStr)
	if len(oldLines) == 0 {
		return "", nil
	}
	normed := make([]string, len(oldLines))
	for i, l := range oldLines {
		normed[i] = norm(l)
	}
	contentLines := splitLines(content)
	n := len(oldLines)

	var starts []int
outer:
	for start := 0; start+n <= len(contentLines); start++ {
		for i := range normed {
			if norm(contentLines[start+i]) != normed[i] {
				continue outer
			}
		}
		starts = append(starts, start)
	}

	switch len(starts) {
	case 0:
		return "", nil
	case 1:
		span := strings.Join(contentLines[starts[0]:starts[0]+n], "\n")
		if strings.Count(content, span) == 1 {
			return span, nil
		}
		return "", nil
	default:
		var ctx strings.Builder
		for _, s := range starts {
			ctx.WriteString(contextWindow(contentLines, s, 15))
			ctx.WriteString("---\n")
		}
		return "", &AmbiguousError{Count: len(starts), Context: ctx.String()}
	}
}

// candidateContexts renders ±15 lines around each exact-match candidate —
// never the whole file.
func candidateContexts(content, oldStr string, limit int) string {
	lines := splitLines(content)
	firstOld, _, _ := strings.Cut(oldStr, "\n")
	var b strings.Builder
	found := 0
	for i, l := range lines {
		if found >= limit {
			break
		}
		if l == firstOld || strings.Contains(l, firstOld) {
			b.WriteString(contextWindow(lines, i, 15))
			b.WriteString("---\n")
			found++
		}
	}
	return b.String()
}

// nearestMatchContext finds the line most similar to old_str's first line
// and renders ±15 lines around it with fresh hashes, plus a re-read hint.
func nearestMatchContext(content, oldStr string) string {
	target := strings.TrimSpace(strings.SplitN(oldStr, "\n", 2)[0])
	if target == "" {
		return "Use read_file to verify the content first."
	}
	lines := splitLines(content)
	bestIdx, bestScore := -1, -1
	for i, l := range lines {
		score := commonPrefixLen(strings.TrimSpace(l), target)
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	if bestIdx < 0 {
		return "Use read_file to verify the content first."
	}
	return fmt.Sprintf(
		"Nearest match around line %d (use these hashes for anchor, or re-read the file):\n%s",
		bestIdx+1, contextWindow(lines, bestIdx, 15))
}

// contextWindow renders ±radius hash-prefixed lines around centre.
func contextWindow(lines []string, centre, radius int) string {
	lo := max(centre-radius, 0)
	hi := min(centre+radius, len(lines))
	var b strings.Builder
	for i := lo; i < hi; i++ {
		b.WriteString(cache.FormatLine(i+1, lines[i]))
	}
	return b.String()
}

func commonPrefixLen(a, b string) int {
	ar, br := []rune(a), []rune(b)
	n := 0
	for n < len(ar) && n < len(br) && ar[n] == br[n] {
		n++
	}
	return n
}

func lineOfOffset(content string, offset int) int {
	if offset < 0 {
		return 1
	}
	return strings.Count(content[:offset], "\n") + 1
}

// postEditContext re-reads the freshly-written file and returns a window
// centred on anchorLine, hash-prefixed, so the model can chain edits without
// another read_file call.
func postEditContext(path string, anchorLine, radius int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := splitLines(string(data))
	total := len(lines)
	if total == 0 {
		return ""
	}
	centre := clamp(anchorLine-1, 0, total-1)
	lo := max(centre-radius, 0)
	hi := min(centre+radius, total)

	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s after edit — lines %d-%d of %d]\n", path, lo+1, hi, total)
	for i := lo; i < hi; i++ {
		b.WriteString(cache.FormatLine(i+1, lines[i]))
	}
	return b.String()
}
