package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nstogner/pare/pkg/cache"
)

// WriteFile creates new files. Overwriting an existing file requires the
// explicit overwrite flag, and even then a content-preservation guard blocks
// rewrites that would silently lose a large share of an existing file.
type WriteFile struct {
	cache *cache.Cache
}

func NewWriteFile(c *cache.Cache) *WriteFile { return &WriteFile{cache: c} }

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Create a NEW file that does not exist yet. NEVER use this on existing " +
		"files — use edit_file instead. Passing overwrite=true on an existing file " +
		"will be blocked if content is much shorter than the original."
}

func (t *WriteFile) InputSchema() map[string]any {
	return schema(map[string]any{
		"path": map[string]any{
			"type":        "string",
			"description": "Path for the new file",
		},
		"content": map[string]any{
			"type":        "string",
			"description": "Full content to write",
		},
		"overwrite": map[string]any{
			"type":        "boolean",
			"description": "Only set true when intentionally replacing an entire existing file with complete content",
		},
	}, "path", "content")
}

func (t *WriteFile) Execute(_ context.Context, input map[string]any) (string, error) {
	path := stringArg(input, "path")
	if path == "" {
		return "", fmt.Errorf("write_file: missing 'path'")
	}
	content, ok := input["content"].(string)
	if !ok {
		return "", fmt.Errorf("write_file: missing 'content'")
	}
	overwrite := boolArg(input, "overwrite")

	_, statErr := os.Stat(path)
	exists := statErr == nil

	if exists && !overwrite {
		return "", fmt.Errorf(
			"write_file: '%s' already exists — use edit_file to modify it, or pass overwrite=true to replace it entirely", path)
	}

	// A "rewrite" that is much shorter than the existing file is almost
	// always a model that read a file and wrote back an incomplete version.
	if exists && overwrite {
		if existing, err := os.ReadFile(path); err == nil {
			existingLines := len(splitLines(string(existing)))
			newLines := len(splitLines(content))
			if existingLines >= 10 && newLines < existingLines*7/10 {
				return "", fmt.Errorf(
					"write_file: blocked — '%s' has %d lines but new content has only %d lines; "+
						"this would delete %d lines of existing content. Use edit_file to modify "+
						"specific sections, or read_file first to confirm you have the complete contents",
					path, existingLines, newLines, existingLines-newLines)
			}
		}
	}

	if parent := filepath.Dir(path); parent != "" && parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return "", fmt.Errorf("write_file: cannot create dirs for '%s': %w", path, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: cannot write '%s': %w", path, err)
	}
	if t.cache != nil {
		t.cache.Invalidate(path)
	}
	return fmt.Sprintf("✓ Wrote %s (%d lines)", path, len(splitLines(content))), nil
}
