// Package index builds a project-wide symbol map with a pure text scan — no
// semantic parser, no model calls. It exists so the planner can reference
// real paths instead of guessing them, and so carry-forward summaries can
// name the symbols a step touched.
package index

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a top-level symbol.
type Kind string

const (
	KindFunc      Kind = "fn"
	KindType      Kind = "type"
	KindClass     Kind = "class"
	KindTrait     Kind = "trait"
	KindMethod    Kind = "method"
	KindConst     Kind = "const"
	KindInterface Kind = "interface"
)

// Symbol is one indexed top-level declaration.
type Symbol struct {
	Name string
	File string
	Line int
	Kind Kind
}

// Index is the complete project symbol map, sorted by file then line.
type Index struct {
	Symbols []Symbol
	byName  map[string][]string
}

// MaxFiles caps the scan so index construction stays bounded on big repos.
const MaxFiles = 500

var ignoredDirs = map[string]bool{
	"target": true, "node_modules": true, ".git": true, ".next": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".cache": true, "coverage": true, "vendor": true,
}

var extensions = map[string]bool{
	".rs": true, ".kt": true, ".kts": true,
	".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".go": true,
	".c": true, ".cpp": true, ".h": true, ".hpp": true,
}

// Build walks the workspace from root and extracts symbols from every source
// file with a known extension, up to MaxFiles files.
func Build(root string) *Index {
	ix := &Index{byName: make(map[string][]string)}

	var files []string
	collectFiles(root, &files)

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		ix.Symbols = append(ix.Symbols, Extract(string(data), rel)...)
	}

	sort.SliceStable(ix.Symbols, func(a, b int) bool {
		if ix.Symbols[a].File != ix.Symbols[b].File {
			return ix.Symbols[a].File < ix.Symbols[b].File
		}
		return ix.Symbols[a].Line < ix.Symbols[b].Line
	})

	for _, sym := range ix.Symbols {
		list := ix.byName[sym.Name]
		if len(list) == 0 || list[len(list)-1] != sym.File {
			ix.byName[sym.Name] = append(list, sym.File)
		}
	}
	return ix
}

// Files returns the workspace-relative source files the index would scan,
// with the same extension filter and MaxFiles cap. The plan engine snapshots
// exactly this set before and after each step.
func Files(root string) []string {
	var abs []string
	collectFiles(root, &abs)
	out := make([]string, 0, len(abs))
	for _, path := range abs {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		out = append(out, rel)
	}
	return out
}

func collectFiles(dir string, out *[]string) {
	if len(*out) >= MaxFiles {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Name() < entries[b].Name() })
	for _, e := range entries {
		if len(*out) >= MaxFiles {
			return
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(dir, name)
		if e.IsDir() {
			if ignoredDirs[name] {
				continue
			}
			collectFiles(path, out)
		} else if extensions[filepath.Ext(name)] {
			*out = append(*out, path)
		}
	}
}

// Resolve maps a symbol name to the first file defining it.
func (ix *Index) Resolve(name string) (string, bool) {
	files, ok := ix.byName[name]
	if !ok || len(files) == 0 {
		return "", false
	}
	return files[0], true
}

// ResolveFiles maps a list of plan-step file entries — symbol names or paths
// — to a deduplicated list of real paths. Entries that look like paths
// (contain a slash or a dot) or resolve to nothing are kept as-is; the model
// may be right about files that do not exist yet.
func (ix *Index) ResolveFiles(entries []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, entry := range entries {
		if strings.ContainsAny(entry, "/.") {
			add(entry)
			continue
		}
		if files, ok := ix.byName[entry]; ok {
			for _, f := range files {
				add(f)
			}
			continue
		}
		add(entry)
	}
	return out
}

// ListCompact renders the index as a prompt section, grouped by path:
//
//	src/auth.rs: fn validate_token, type AuthError
//	src/handler.rs: fn handle_request
//
// Capped at maxLines files; returns "" when the index is empty.
func (ix *Index) ListCompact(maxLines int) string {
	if len(ix.Symbols) == 0 {
		return ""
	}

	type fileGroup struct {
		file string
		syms []string
	}
	var groups []fileGroup
	for _, sym := range ix.Symbols {
		label := string(sym.Kind) + " " + sym.Name
		if n := len(groups); n > 0 && groups[n-1].file == sym.File {
			groups[n-1].syms = append(groups[n-1].syms, label)
			continue
		}
		groups = append(groups, fileGroup{file: sym.File, syms: []string{label}})
	}

	var lines []string
	for _, g := range groups {
		if len(lines) >= maxLines {
			break
		}
		symList := strings.Join(g.syms, ", ")
		if len(g.syms) > 12 {
			symList = strings.Join(g.syms[:12], ", ") +
				", … (" + strconv.Itoa(len(g.syms)) + " total)"
		}
		lines = append(lines, "  "+g.file+": "+symList)
	}

	note := ""
	if len(groups) > maxLines {
		note = "\n  … and " + strconv.Itoa(len(groups)-maxLines) + " more files"
	}
	return "# Project symbol index\n" +
		"Use these symbol names and paths in the \"files\" field of each step:\n\n" +
		strings.Join(lines, "\n") + note + "\n"
}
