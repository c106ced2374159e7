package index

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Per-language patterns for top-level declarations. Each pattern's first
// capture group is the symbol name.
type pattern struct {
	kind Kind
	re   *regexp.Regexp
}

var (
	rustPatterns = []pattern{
		{KindFunc, regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?fn\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindType, regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum)\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindTrait, regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?trait\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindMethod, regexp.MustCompile(`^impl(?:<[^>]*>)?\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindConst, regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:const|static)\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindType, regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?type\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	}

	kotlinPatterns = []pattern{
		{KindFunc, regexp.MustCompile(`^(?:(?:public|private|internal|protected)\s+)?(?:suspend\s+)?fun\s+(?:<[^>]*>\s+)?([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindClass, regexp.MustCompile(`^(?:(?:public|private|internal|protected|open|abstract|sealed|data)\s+)*(?:class|object)\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindInterface, regexp.MustCompile(`^(?:(?:public|private|internal)\s+)?interface\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindConst, regexp.MustCompile(`^(?:const\s+)?val\s+([A-Z_][A-Z0-9_]*)\s*=`)},
	}

	tsPatterns = []pattern{
		{KindFunc, regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s+([A-Za-z_$][A-Za-z0-9_$]*)`)},
		{KindClass, regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)},
		{KindInterface, regexp.MustCompile(`^(?:export\s+)?interface\s+([A-Za-z_$][A-Za-z0-9_$]*)`)},
		{KindType, regexp.MustCompile(`^(?:export\s+)?type\s+([A-Za-z_$][A-Za-z0-9_$]*)`)},
		{KindConst, regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*=\s*(?:async\s*)?(?:\(|function)`)},
	}

	pyPatterns = []pattern{
		{KindFunc, regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindClass, regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	}

	goPatterns = []pattern{
		{KindFunc, regexp.MustCompile(`^func\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)},
		{KindMethod, regexp.MustCompile(`^func\s+\([^)]+\)\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindType, regexp.MustCompile(`^type\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:struct|interface|[A-Za-z\[\]*])`)},
		{KindConst, regexp.MustCompile(`^const\s+([A-Za-z_][A-Za-z0-9_]*)`)},
	}

	cPatterns = []pattern{
		{KindType, regexp.MustCompile(`^(?:typedef\s+)?struct\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindClass, regexp.MustCompile(`^class\s+([A-Za-z_][A-Za-z0-9_]*)`)},
		{KindFunc, regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_*\s]+\s[*]?([A-Za-z_][A-Za-z0-9_]*)\s*\([^;]*$`)},
	}
)

func patternsFor(ext string) []pattern {
	switch ext {
	case ".rs":
		return rustPatterns
	case ".kt", ".kts":
		return kotlinPatterns
	case ".ts", ".tsx", ".js", ".jsx":
		return tsPatterns
	case ".py":
		return pyPatterns
	case ".go":
		return goPatterns
	case ".c", ".cpp", ".h", ".hpp":
		return cPatterns
	default:
		return nil
	}
}

// Extract scans file content for top-level symbol declarations. Indented
// lines are skipped in every language, as are comment lines.
func Extract(content, file string) []Symbol {
	patterns := patternsFor(filepath.Ext(file))
	if patterns == nil {
		return nil
	}

	var out []Symbol
	for i, line := range strings.Split(content, "\n") {
		// Top-level only: declarations start in column 0.
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if isComment(trimmed) {
			continue
		}
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			out = append(out, Symbol{
				Name: m[1],
				File: file,
				Line: i + 1,
				Kind: p.kind,
			})
			break
		}
	}
	return out
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*")
}
