package mcp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/pare/pkg/mcp"
	"github.com/nstogner/pare/pkg/tools"
)

type echoTool struct{}

func (echoTool) Name() string                { return "echo" }
func (echoTool) Description() string         { return "echo the input back" }
func (echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Execute(_ context.Context, input map[string]any) (string, error) {
	s, _ := input["text"].(string)
	return "echo: " + s, nil
}

func serve(t *testing.T, requests ...string) []map[string]any {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(echoTool{})
	server := mcp.NewServer(registry)

	in := strings.NewReader(strings.Join(requests, "\n") + "\n")
	var out bytes.Buffer
	require.NoError(t, server.Serve(context.Background(), in, &out))

	var responses []map[string]any
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServerInitialize(t *testing.T) {
	responses := serve(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	require.Len(t, responses, 1)
	result := responses[0]["result"].(map[string]any)
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "pare", info["name"])
}

func TestServerToolsListAndCall(t *testing.T) {
	responses := serve(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
	)
	require.Len(t, responses, 2)

	list := responses[0]["result"].(map[string]any)["tools"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "echo", list[0].(map[string]any)["name"])

	callResult := responses[1]["result"].(map[string]any)
	content := callResult["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "echo: hi", content["text"])
}

func TestServerUnknownMethod(t *testing.T) {
	responses := serve(t, `{"jsonrpc":"2.0","id":5,"method":"bogus/method"}`)
	require.Len(t, responses, 1)
	errObj := responses[0]["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "not supported")
}

func TestServerSkipsNotifications(t *testing.T) {
	responses := serve(t,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)
	// Only the id-bearing request gets a response.
	require.Len(t, responses, 1)
}
