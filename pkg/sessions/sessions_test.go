package sessions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/sessions"
)

func TestSessionRoundtrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	sess, err := sessions.New("myproject", "local", "qwen3:14b")
	require.NoError(t, err)

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "fix the bug"},
		{Role: domain.RoleAssistant, Content: "on it", ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: "read_file", Arguments: `{"path":"a.go"}`},
		}},
		{Role: domain.RoleTool, Content: "file body", ToolCallID: "c1", ToolName: "read_file"},
	}
	require.NoError(t, sess.AppendAll(msgs))
	require.NoError(t, sess.Close())

	header, loaded, err := sessions.Read(sess.Path)
	require.NoError(t, err)
	assert.Equal(t, "myproject", header.Project)
	assert.Equal(t, "qwen3:14b", header.Model)
	require.Len(t, loaded, 3)
	assert.Equal(t, domain.RoleUser, loaded[0].Role)
	assert.Equal(t, "c1", loaded[2].ToolCallID)
}

func TestListNewestFirst(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	first, err := sessions.New("alpha", "p", "m")
	require.NoError(t, err)
	first.Append(domain.Message{Role: domain.RoleUser, Content: "one"})
	first.Close()

	second, err := sessions.New("beta", "p", "m")
	require.NoError(t, err)
	second.Append(domain.Message{Role: domain.RoleUser, Content: "two"})
	second.Close()

	infos, err := sessions.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.False(t, infos[0].Header.CreatedAt.Before(infos[1].Header.CreatedAt))
	assert.Equal(t, 1, infos[0].MessageCount)
}

func TestListEmptyDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	infos, err := sessions.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestProjectNameSanitized(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	sess, err := sessions.New("weird/name with spaces", "p", "m")
	require.NoError(t, err)
	defer sess.Close()
	assert.NotContains(t, sess.Path, " ")
	assert.Contains(t, sess.Path, "weird-name-with-spaces")
}
