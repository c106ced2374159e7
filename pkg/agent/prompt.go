package agent

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const systemPromptBase = `You are pare, a focused coding assistant. You help with software engineering tasks by using the available tools.

Guidelines:
- Be direct and efficient — use the minimum tool calls needed
- Read files before editing them
- NEVER use write_file on a file that already exists — always use edit_file to modify existing files
- write_file is ONLY for creating brand-new files that do not exist yet
- After editing source files, verify the change compiles before declaring done
- For replacement tasks (e.g. "replace X with Y"), use search to confirm no instances of X remain before declaring done
- When a task is complete, say so clearly and stop calling tools
- edit_file returns a fresh excerpt of the file around the edit site after every successful edit — use those hashes directly for follow-up edits; do NOT call read_file again to verify an edit you just made
- For large files: use read_file with symbols=true to get a function/class index first, then read_file with line_range=[start,end] to fetch only the section you need
- read_file output lines are prefixed N#hhhh: — the 4-char hash after the '#' is the anchor for edit_file. Example: from '42#a3f2: func foo()', pass anchor="a3f2". This prevents stale-line errors if the file changed between read and edit.
- In plan mode, the "Completed steps" preamble describes what changed but its line numbers are STALE. Always read anchors and line positions from the pre-loaded file content shown in the attached files section.
- Tool outputs are summarised in history to save context. Use the recall tool to retrieve the full output of any previous tool call when you need it.
- Do not ask for permission mid-task. If something is clearly required, do it and report what you did.`

const quickSystemPrompt = "You are pare in quick mode. Answer concisely in one response. " +
	"If a tool call is needed, make exactly one — prefer edit_file or search. " +
	"Do not read files unless strictly necessary. Keep responses short."

// projectMarkers identify a directory worth mapping into the system prompt.
var projectMarkers = []string{
	"Cargo.toml", "package.json", "pyproject.toml", "go.mod",
	"Makefile", "CMakeLists.txt", ".pare", "src",
}

var mapIgnoredDirs = map[string]bool{
	"node_modules": true, ".git": true, "target": true, ".next": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".cache": true, "coverage": true, ".idea": true,
}

const maxMapEntries = 80

// buildProjectMap walks the workspace depth-2 and returns a compact file
// map, or "" when the directory does not look like a code project.
func buildProjectMap(root string) string {
	marked := false
	for _, m := range projectMarkers {
		if _, err := os.Stat(filepath.Join(root, m)); err == nil {
			marked = true
			break
		}
	}
	if !marked {
		return ""
	}

	var paths []string
	collectMapPaths(root, root, 0, 2, &paths)
	if len(paths) == 0 {
		return ""
	}
	return "\n\n# Project layout\n\n" + strings.Join(paths, "\n")
}

func collectMapPaths(root, dir string, depth, maxDepth int, out *[]string) {
	if len(*out) >= maxMapEntries {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].IsDir() != entries[b].IsDir() {
			return entries[a].IsDir()
		}
		return entries[a].Name() < entries[b].Name()
	})

	for _, entry := range entries {
		if len(*out) >= maxMapEntries {
			return
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") && name != ".pare" {
			continue
		}
		path := filepath.Join(dir, name)
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		if entry.IsDir() {
			if mapIgnoredDirs[name] {
				continue
			}
			*out = append(*out, rel+"/")
			if depth < maxDepth {
				collectMapPaths(root, path, depth+1, maxDepth, out)
			}
		} else {
			*out = append(*out, rel)
		}
	}
}
