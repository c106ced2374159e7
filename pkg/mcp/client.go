// Package mcp speaks the Model Context Protocol over stdio: a client that
// spawns configured servers and exposes their tools to the model under
// namespaced names, and a server mode that exposes pare's own tools to other
// MCP clients.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nstogner/pare/pkg/config"
)

// protocolVersion is the MCP revision sent in the initialize handshake.
const protocolVersion = "2024-11-05"

// Tool is one discovered external tool.
type Tool struct {
	// QualifiedName is "<server>.<tool>" — the name the model sees.
	QualifiedName string
	// ToolName is the original name used when calling the server.
	ToolName    string
	Description string
	InputSchema map[string]any
	ServerName  string
}

// rpcRequest / rpcResponse are the JSON-RPC 2.0 framing.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// serverConn is one running MCP server process.
type serverConn struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	tools  []Tool

	mu     sync.Mutex
	nextID uint64
}

func (s *serverConn) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	line, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("writing to MCP server '%s': %w", s.name, err)
	}

	// Read lines until the response for our id arrives, skipping
	// notifications and malformed lines.
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.stdout.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("MCP server '%s' closed stdout: %w", s.name, err)
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			continue
		}
		var respID uint64
		if err := json.Unmarshal(resp.ID, &respID); err != nil || respID != id {
			continue
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error from '%s': %s", s.name, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (s *serverConn) callTool(ctx context.Context, toolName string, arguments map[string]any) (string, error) {
	result, err := s.send(ctx, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": arguments,
	})
	if err != nil {
		return "", err
	}
	return extractTextContent(result), nil
}

// extractTextContent flattens an MCP tools/call result
// ({content: [{type: "text", text: ...}]}) into plain text.
func extractTextContent(result json.RawMessage) string {
	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &parsed); err == nil && len(parsed.Content) > 0 {
		var parts []string
		for _, c := range parsed.Content {
			switch c.Type {
			case "text":
				parts = append(parts, c.Text)
			case "image":
				parts = append(parts, "[image content not displayed]")
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return string(result)
}

// Client manages every configured MCP server for a profile.
type Client struct {
	mu      sync.RWMutex
	servers map[string]*serverConn
	// CallTimeout bounds each tools/call round-trip.
	CallTimeout time.Duration
}

// Connect spawns all configured servers concurrently, performs the
// initialize handshake, and discovers their tools. Servers that fail to
// initialize are skipped with a stderr log — a broken server must not take
// the session down.
func Connect(ctx context.Context, configs []config.MCPServer) *Client {
	c := &Client{
		servers:     make(map[string]*serverConn),
		CallTimeout: 60 * time.Second,
	}

	var g errgroup.Group
	var mu sync.Mutex
	for _, cfg := range configs {
		g.Go(func() error {
			conn, err := spawnAndInit(ctx, cfg)
			if err != nil {
				slog.Error("MCP server skipped", "server", cfg.Name, "error", err)
				return nil
			}
			slog.Info("MCP server connected", "server", cfg.Name, "tools", len(conn.tools))
			mu.Lock()
			c.servers[cfg.Name] = conn
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return c
}

// Tools returns every discovered tool across all running servers.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Tool
	for _, s := range c.servers {
		out = append(out, s.tools...)
	}
	return out
}

// Call routes a namespaced tool name ("server.tool") to its server.
func (c *Client) Call(ctx context.Context, qualifiedName string, arguments map[string]any) (string, error) {
	serverName, toolName, ok := strings.Cut(qualifiedName, ".")
	if !ok {
		return "", fmt.Errorf("invalid MCP tool name: %s", qualifiedName)
	}
	c.mu.RLock()
	conn, exists := c.servers[serverName]
	c.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("no MCP server named '%s'", serverName)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	return conn.callTool(callCtx, toolName, arguments)
}

// Close terminates all server processes.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, s := range c.servers {
		s.stdin.Close()
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		delete(c.servers, name)
	}
}

func spawnAndInit(ctx context.Context, cfg config.MCPServer) (*serverConn, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %v: %w", cfg.Command, err)
	}

	conn := &serverConn{
		name:   cfg.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := conn.send(initCtx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo":      map[string]any{"name": "pare", "version": "0.1.0"},
	}); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	notif, _ := json.Marshal(rpcNotification{JSONRPC: "2.0", Method: "notifications/initialized"})
	if _, err := stdin.Write(append(notif, '\n')); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}

	toolsResult, err := conn.send(initCtx, "tools/list", nil)
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}
	conn.tools = parseTools(cfg.Name, toolsResult)
	return conn, nil
}

func parseTools(serverName string, result json.RawMessage) []Tool {
	var parsed struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil
	}
	out := make([]Tool, 0, len(parsed.Tools))
	for _, t := range parsed.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, Tool{
			QualifiedName: serverName + "." + t.Name,
			ToolName:      t.Name,
			Description:   t.Description,
			InputSchema:   schema,
			ServerName:    serverName,
		})
	}
	return out
}
