package telemetry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/telemetry"
)

func TestAppendAndLoad(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, telemetry.Append(root, telemetry.TaskRecord{
		Cwd:             "proj",
		TaskPreview:     "fix the login flow",
		InputTokens:     1200,
		OutputTokens:    300,
		ToolCalls:       4,
		CompressedCount: 2,
		Model:           "qwen3:14b",
		Profile:         "local",
	}))
	require.NoError(t, telemetry.Append(root, telemetry.TaskRecord{
		Cwd:         "proj",
		TaskPreview: "second task",
	}))

	records, err := telemetry.Load(root)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fix the login flow", records[0].TaskPreview)
	assert.Equal(t, 0.5, records[0].CompressionRate)
	assert.NotZero(t, records[0].Timestamp)
}

func TestAppendTruncatesPreview(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, telemetry.Append(root, telemetry.TaskRecord{
		TaskPreview: strings.Repeat("é", 200),
	}))
	records, err := telemetry.Load(root)
	require.NoError(t, err)
	assert.Len(t, []rune(records[0].TaskPreview), 80)
}

func TestLoadMissingFile(t *testing.T) {
	records, err := telemetry.Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, records)
}
