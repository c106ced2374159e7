package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/nstogner/pare/pkg/tools"
)

// Server exposes pare's native tools to another MCP client over stdio.
// Activated by the --mcp flag instead of the TUI.
type Server struct {
	registry *tools.Registry
}

func NewServer(registry *tools.Registry) *Server {
	return &Server{registry: registry}
}

// Serve reads JSON-RPC requests line-by-line from in and writes responses to
// out until EOF or cancellation.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Debug("MCP server: skipping malformed line", "error", err)
			continue
		}
		// Notifications carry no id and expect no response.
		if len(req.ID) == 0 || string(req.ID) == "null" {
			continue
		}

		result, rpcErr := s.handle(ctx, req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": json.RawMessage(req.ID)}
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": -32603, "message": rpcErr.Error()}
		} else {
			resp["result"] = result
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "pare", "version": "0.1.0"},
		}, nil

	case "tools/list":
		var defs []map[string]any
		for _, t := range s.registry.List() {
			defs = append(defs, map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"inputSchema": t.InputSchema(),
			})
		}
		return map[string]any{"tools": defs}, nil

	case "tools/call":
		var call struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, fmt.Errorf("parsing tools/call params: %w", err)
		}
		tool, ok := s.registry.Get(call.Name)
		if !ok {
			return nil, fmt.Errorf("unknown tool: %s", call.Name)
		}
		output, err := tool.Execute(ctx, call.Arguments)
		if err != nil {
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": err.Error()}},
				"isError": true,
			}, nil
		}
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": output}},
		}, nil

	default:
		return nil, fmt.Errorf("method not supported: %s", method)
	}
}
