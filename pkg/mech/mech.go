// Package mech is the --mechanical shortcut: grep-and-replace tasks run as
// pure pattern substitution with zero model calls. The task syntax is
// "s/old/new/" or "replace OLD with NEW". Run honors Task.Glob when a caller
// sets it; the task syntax has no glob form, so Parse leaves it empty.
package mech

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nstogner/pare/pkg/index"
)

// Task is a parsed mechanical substitution.
type Task struct {
	Pattern *regexp.Regexp
	Replace string
	Glob    string
}

// Parse accepts "s/old/new/", "s|old|new|", or "replace OLD with NEW".
func Parse(input string) (*Task, error) {
	input = strings.TrimSpace(input)

	if len(input) > 2 && input[0] == 's' && (input[1] == '/' || input[1] == '|') {
		sep := string(input[1])
		parts := strings.Split(input[2:], sep)
		if len(parts) < 2 {
			return nil, fmt.Errorf("mechanical: cannot parse substitution %q", input)
		}
		re, err := regexp.Compile(parts[0])
		if err != nil {
			return nil, fmt.Errorf("mechanical: bad pattern %q: %w", parts[0], err)
		}
		return &Task{Pattern: re, Replace: parts[1]}, nil
	}

	if rest, ok := strings.CutPrefix(input, "replace "); ok {
		old, new, found := strings.Cut(rest, " with ")
		if !found {
			return nil, fmt.Errorf("mechanical: expected 'replace OLD with NEW', got %q", input)
		}
		re, err := regexp.Compile(regexp.QuoteMeta(strings.TrimSpace(old)))
		if err != nil {
			return nil, err
		}
		return &Task{Pattern: re, Replace: strings.TrimSpace(new)}, nil
	}

	return nil, fmt.Errorf("mechanical: task must be 's/old/new/' or 'replace OLD with NEW'")
}

// Result reports what a run changed.
type Result struct {
	FilesChanged int
	Replacements int
}

// Run applies the substitution across the workspace's source files.
func Run(root string, task *Task) (*Result, error) {
	res := &Result{}
	for _, rel := range index.Files(root) {
		if task.Glob != "" {
			if ok, _ := filepath.Match(task.Glob, filepath.Base(rel)); !ok {
				continue
			}
		}
		path := filepath.Join(root, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		matches := task.Pattern.FindAll(data, -1)
		if len(matches) == 0 {
			continue
		}
		replaced := task.Pattern.ReplaceAll(data, []byte(task.Replace))
		if err := os.WriteFile(path, replaced, 0o644); err != nil {
			return res, fmt.Errorf("mechanical: writing %s: %w", rel, err)
		}
		res.FilesChanged++
		res.Replacements += len(matches)
	}
	return res, nil
}
