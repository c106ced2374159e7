package cache_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/cache"
)

func TestLineHashFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9a-z]{4}$`)
	for _, line := range []string{"", "hello", "func main() {", "日本語のテキスト", "\tindented"} {
		h := cache.LineHash(line)
		assert.Regexp(t, re, h, "hash of %q", line)
	}
}

func TestLineHashStable(t *testing.T) {
	assert.Equal(t, cache.LineHash("hello"), cache.LineHash("hello"))
	assert.NotEqual(t, cache.LineHash("hello"), cache.LineHash("world"))
}

func TestFormatLine(t *testing.T) {
	line := cache.FormatLine(42, "fn foo()")
	assert.Regexp(t, `^42#[0-9a-z]{4}: fn foo\(\)\n$`, line)
}

func TestStoreAndCheck(t *testing.T) {
	c := cache.New()
	c.NextTurn()
	c.Store("test.txt", "content")

	hit, ok := c.Check("test.txt")
	require.True(t, ok)
	assert.Equal(t, "content", hit.Content)
	assert.Equal(t, 0, hit.TurnsAgo)
	assert.Contains(t, hit.Message(), "this turn")

	c.NextTurn()
	hit, ok = c.Check("test.txt")
	require.True(t, ok)
	assert.Equal(t, 1, hit.TurnsAgo)
	assert.Contains(t, hit.Message(), "1 turn ago")

	c.NextTurn()
	hit, _ = c.Check("test.txt")
	assert.Contains(t, hit.Message(), "2 turns ago")
}

func TestInvalidate(t *testing.T) {
	c := cache.New()
	c.Store("test.txt", "content")
	c.Invalidate("test.txt")
	_, ok := c.Check("test.txt")
	assert.False(t, ok)
}

func TestInvalidateIfMentioned(t *testing.T) {
	c := cache.New()
	c.Store("test.txt", "content")
	c.Store("other.txt", "content")

	// Basename match catches relative mentions.
	c.InvalidateIfMentioned("sed -i src/test.txt")
	_, ok := c.Check("test.txt")
	assert.False(t, ok)
	_, ok = c.Check("other.txt")
	assert.True(t, ok)
}

func TestLineIndexing(t *testing.T) {
	c := cache.New()
	c.Store("multi.txt", "alpha\nbeta\ngamma\n")

	hit, ok := c.Check("multi.txt")
	require.True(t, ok)
	require.Len(t, hit.Lines, 3)
	assert.Equal(t, 1, hit.Lines[0].No)
	assert.Equal(t, "alpha", hit.Lines[0].Text)
	assert.Equal(t, cache.LineHash("beta"), hit.Lines[1].Hash)
}
