// Package cache is the session read cache: every file the model reads is
// remembered with per-line content hashes. Repeat reads are served from the
// cache with an age note, and any mutation of a path evicts its entry so the
// next read is fresh.
package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Line is one cached line with its stable content hash.
type Line struct {
	No   int
	Hash string
	Text string
}

type entry struct {
	content string
	lines   []Line
	turn    int
	readAt  time.Time
}

// Cache maps absolute paths to their last-read content. Single-writer (the
// agent loop); the mutex keeps it safe if replicated behind goroutines later.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]entry
	currentTurn int
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// NextTurn advances the turn counter. Call once per agent loop iteration.
func (c *Cache) NextTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTurn++
}

// Hit is a cache lookup result.
type Hit struct {
	Content  string
	Lines    []Line
	TurnsAgo int
	ReadAt   time.Time
}

// Message builds the body returned to the model instead of a fresh read.
func (h Hit) Message() string {
	ago := fmt.Sprintf("%d turns ago", h.TurnsAgo)
	switch h.TurnsAgo {
	case 0:
		ago = "this turn"
	case 1:
		ago = "1 turn ago"
	}
	return fmt.Sprintf(
		"[Returning cached version — file was read %s. Content is shown below. "+
			"If you believe the file has changed, use edit_file or write_file to update it first.]\n\n%s",
		ago, h.Content)
}

// Check returns the cached entry for a path, if present.
func (c *Cache) Check(path string) (Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[canonical(path)]
	if !ok {
		return Hit{}, false
	}
	return Hit{
		Content:  e.content,
		Lines:    e.lines,
		TurnsAgo: c.currentTurn - e.turn,
		ReadAt:   e.readAt,
	}, true
}

// Store records a freshly-read file, indexing every line with its hash.
func (c *Cache) Store(path, content string) {
	lines := splitLines(content)
	indexed := make([]Line, len(lines))
	for i, l := range lines {
		indexed[i] = Line{No: i + 1, Hash: LineHash(l), Text: l}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[canonical(path)] = entry{
		content: content,
		lines:   indexed,
		turn:    c.currentTurn,
		readAt:  time.Now().UTC(),
	}
}

// Invalidate evicts a path after a write, edit, or patch.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, canonical(path))
}

// InvalidateIfMentioned evicts any cached path that appears in a shell
// command, by full path or basename. Catches `sed -i`, `patch`, `git
// checkout` and friends mutating cached files behind the tool layer.
func (c *Cache) InvalidateIfMentioned(command string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.Contains(command, key) || strings.Contains(command, filepath.Base(key)) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of cached paths.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(content, "\n"), "\n")
}
