package plan

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nstogner/pare/pkg/index"
)

// Snapshot maps workspace-relative paths to content hashes. Taken before a
// step runs and diffed afterwards to compute the carry-forward summary.
type Snapshot map[string]uint32

// TakeSnapshot hashes every indexed source file under root.
func TakeSnapshot(root string) Snapshot {
	snap := make(Snapshot)
	for _, path := range index.Files(root) {
		data, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			continue
		}
		h := fnv.New32a()
		h.Write(data)
		snap[path] = h.Sum32()
	}
	return snap
}

// ChangedPaths returns the sorted set of paths modified or added since the
// earlier snapshot.
func ChangedPaths(before, after Snapshot) []string {
	var out []string
	for path, hash := range after {
		if prev, ok := before[path]; !ok || prev != hash {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// CarryForward composes the deterministic one-line digest of a completed
// step: "modified <path> [<sym1>, <sym2>]; …". Symbols come from the index
// extractor, capped at 4 per file.
func CarryForward(root string, changed []string, fallback string) string {
	var parts []string
	for _, path := range changed {
		data, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			continue
		}
		syms := index.Extract(string(data), path)
		names := make([]string, 0, 4)
		for _, s := range syms {
			names = append(names, s.Name)
			if len(names) == 4 {
				break
			}
		}
		if len(names) == 0 {
			parts = append(parts, "modified "+path)
		} else {
			parts = append(parts, fmt.Sprintf("modified %s [%s]", path, strings.Join(names, ", ")))
		}
	}
	if len(parts) == 0 {
		return "completed: " + fallback
	}
	return strings.Join(parts, "; ")
}
