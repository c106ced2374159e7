package history

import (
	"fmt"
	"strconv"
	"strings"
)

// Summarize produces the one-line display form of a tool result. The rules
// are deterministic — no model calls — so compressing a history twice always
// yields the same bodies.
func Summarize(toolName, output string) string {
	switch toolName {
	case "read_file":
		return summarizeRead(output)
	case "write_file", "edit_file", "patch_file":
		return firstLine(output)
	case "list_files":
		return summarizeList(output)
	case "search":
		return summarizeSearch(output)
	case "bash":
		return summarizeBash(output)
	default:
		return firstLine(output)
	}
}

// CompressBody is the body the budget engine substitutes for an evicted tool
// result: the display summary plus a recall hint.
func CompressBody(toolName, display string) string {
	return fmt.Sprintf("[content compressed — %s. Use recall to retrieve the full output.]", display)
}

func summarizeRead(output string) string {
	first := firstLine(output)
	if strings.HasPrefix(first, "[") {
		inner := strings.TrimPrefix(first, "[")
		pathPart := strings.TrimSpace(strings.TrimSuffix(strings.SplitN(inner, " —", 2)[0], "]"))
		shown := 0
		for _, l := range strings.Split(output, "\n") {
			if strings.Contains(l, "#") && strings.Contains(l, ": ") {
				shown++
			}
		}
		if shown > 0 {
			return fmt.Sprintf("✓ Read %s (%d lines shown)", pathPart, shown)
		}
		return "✓ Read " + pathPart
	}
	return fmt.Sprintf("✓ Read file (%d lines)", lineCount(output))
}

func summarizeList(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > 0 {
		last := lines[len(lines)-1]
		if strings.HasPrefix(last, "[") {
			return "✓ Listed: " + strings.TrimSuffix(strings.TrimPrefix(last, "["), "]")
		}
	}
	return fmt.Sprintf("✓ Listed directory (%d lines)", len(lines))
}

func summarizeSearch(output string) string {
	if strings.HasPrefix(output, "No matches") {
		return firstLine(output)
	}
	var locations []string
	n := 0
	for _, l := range strings.Split(output, "\n") {
		parts := strings.SplitN(l, ":", 3)
		if len(parts) < 2 {
			continue
		}
		if _, err := strconv.Atoi(parts[1]); err != nil {
			continue
		}
		n++
		loc := parts[0] + ":" + parts[1]
		if len(locations) == 0 || locations[len(locations)-1] != loc {
			locations = append(locations, loc)
		}
	}
	if n == 0 {
		return firstLine(output)
	}
	shown := locations
	tail := ""
	if len(locations) > 5 {
		shown = locations[:5]
		tail = fmt.Sprintf(", +%d more", len(locations)-5)
	}
	return fmt.Sprintf("✓ search → %d matches: %s%s", n, strings.Join(shown, ", "), tail)
}

func summarizeBash(output string) string {
	first := firstLine(output)
	total := lineCount(output)
	if total <= 1 {
		return first
	}
	return fmt.Sprintf("%s [+%d lines]", first, total-1)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(s, "\n"), "\n"))
}
