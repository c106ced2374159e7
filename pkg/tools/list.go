package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// maxListEntries bounds the tree output.
	maxListEntries = 200
	defaultDepth   = 3
)

var ignoredListDirs = map[string]bool{
	"node_modules": true, ".git": true, "target": true, ".next": true,
	"dist": true, "build": true, "__pycache__": true, ".venv": true,
	"venv": true, ".cache": true, "coverage": true,
}

// ListFiles renders a bounded directory tree, skipping the usual noise dirs.
type ListFiles struct{}

func NewListFiles() *ListFiles { return &ListFiles{} }

func (t *ListFiles) Name() string { return "list_files" }

func (t *ListFiles) Description() string {
	return "List directory contents as a tree. Ignores common noise dirs (node_modules, .git, target). " +
		"Pass glob to filter entries, e.g. '*.go'."
}

func (t *ListFiles) InputSchema() map[string]any {
	return schema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Directory path (default: current directory)",
		},
		"glob": map[string]any{
			"type":        "string",
			"description": "Optional glob filter applied to file names",
		},
		"depth": map[string]any{
			"type":        "integer",
			"description": "Max depth to traverse (default: 3)",
		},
	})
}

func (t *ListFiles) Execute(_ context.Context, input map[string]any) (string, error) {
	root := stringArg(input, "path")
	if root == "" {
		root = "."
	}
	glob := stringArg(input, "glob")
	maxDepth := intArg(input, "depth", defaultDepth)

	w := &treeWalker{glob: glob, maxDepth: maxDepth}
	w.walk(root, 0, "")

	if w.truncated {
		w.out.WriteString(fmt.Sprintf(
			"\n[Truncated at %d entries — use a more specific path or smaller depth]", maxListEntries))
	} else {
		w.out.WriteString(fmt.Sprintf("\n[%d entries]", w.count))
	}
	return w.out.String(), nil
}

type treeWalker struct {
	glob      string
	maxDepth  int
	out       strings.Builder
	count     int
	truncated bool
}

func (w *treeWalker) walk(dir string, depth int, prefix string) {
	if w.truncated {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	// Dirs first, then files, both alphabetical.
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].IsDir() != entries[b].IsDir() {
			return entries[a].IsDir()
		}
		return entries[a].Name() < entries[b].Name()
	})

	for i, entry := range entries {
		if w.truncated {
			return
		}
		name := entry.Name()
		if w.glob != "" && !entry.IsDir() {
			if ok, _ := filepath.Match(w.glob, name); !ok {
				continue
			}
		}
		isLast := i == len(entries)-1
		connector, extension := "├── ", "│   "
		if isLast {
			connector, extension = "└── ", "    "
		}

		display := name
		if entry.IsDir() {
			display += "/"
		}
		w.out.WriteString(prefix + connector + display + "\n")
		w.count++
		if w.count >= maxListEntries {
			w.truncated = true
			return
		}

		if entry.IsDir() && depth < w.maxDepth && !ignoredListDirs[name] {
			w.walk(filepath.Join(dir, name), depth+1, prefix+extension)
		}
	}
}
