// Package openai implements model.Provider against any OpenAI-compatible
// chat-completions endpoint speaking Server-Sent Events.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/pare/pkg/domain"
	"github.com/nstogner/pare/pkg/model"
)

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// Verify interface compliance.
var _ model.Provider = (*Client)(nil)

// New creates a client for the given base endpoint. The endpoint may be a
// bare base URL ("http://localhost:11434/v1") or the full chat-completions
// path; the path is appended when missing.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		// No intrinsic request timeout — streams run as long as the model
		// generates. Cancellation comes from the context.
		httpClient: &http.Client{},
	}
}

func (c *Client) url() string {
	if strings.Contains(c.endpoint, "/chat/completions") {
		return c.endpoint
	}
	return strings.TrimRight(c.endpoint, "/") + "/chat/completions"
}

// ── Wire types ──

type wireRequest struct {
	Model         string             `json:"model"`
	Messages      []json.RawMessage  `json:"messages"`
	Tools         []wireTool         `json:"tools,omitempty"`
	ToolChoice    string             `json:"tool_choice,omitempty"`
	Stream        bool               `json:"stream"`
	StreamOptions *wireStreamOptions `json:"stream_options,omitempty"`
}

type wireStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *usageStats    `json:"usage"`
	Error   *apiError      `json:"error"`
}

type streamChoice struct {
	Delta *delta `json:"delta"`
}

type delta struct {
	Content string `json:"content"`
	// Reasoning tokens arrive under different names depending on the
	// provider: reasoning_content (DeepSeek-R1, Qwen3) or reasoning
	// (OpenRouter and others).
	ReasoningContent string          `json:"reasoning_content"`
	Reasoning        string          `json:"reasoning"`
	ToolCalls        []toolCallDelta `json:"tool_calls"`
}

type toolCallDelta struct {
	Index    int            `json:"index"`
	ID       string         `json:"id"`
	Function *functionDelta `json:"function"`
}

type functionDelta struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type usageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiError struct {
	Message string `json:"message"`
}

// pendingToolCall accumulates sparse deltas for one streamed index until the
// stream ends; whole calls only are handed to the caller.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// Chat streams one completion. onDelta fires for each text or reasoning
// increment; the returned response carries the assembled text, whole tool
// calls, and usage counts from the final event.
func (c *Client) Chat(ctx context.Context, req model.Request, onDelta func(model.Delta)) (*model.Response, error) {
	body := wireRequest{
		Model:    req.Model,
		Messages: buildMessages(req.System, req.Messages),
		Stream:   true,
		StreamOptions: &wireStreamOptions{
			IncludeUsage: true,
		},
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	out, err := c.consumeStream(ctx, resp.Body, onDelta)
	if err != nil {
		return nil, err
	}
	slog.Debug("Chat stream complete",
		"model", req.Model,
		"duration", time.Since(start),
		"toolCalls", len(out.ToolCalls),
		"inputTokens", out.InputTokens,
		"outputTokens", out.OutputTokens,
	)
	return out, nil
}

func (c *Client) consumeStream(ctx context.Context, body io.Reader, onDelta func(model.Delta)) (*model.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		textBuf      strings.Builder
		reasoningBuf strings.Builder
		pending      []*pendingToolCall
		inputTokens  int
		outputTokens int
	)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "data: [DONE]" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed or partial event — skip rather than kill the stream.
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("API stream error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			inputTokens = chunk.Usage.PromptTokens
			outputTokens = chunk.Usage.CompletionTokens
		}

		for _, choice := range chunk.Choices {
			d := choice.Delta
			if d == nil {
				continue
			}
			if rc := firstNonEmpty(d.ReasoningContent, d.Reasoning); rc != "" {
				reasoningBuf.WriteString(rc)
				if onDelta != nil {
					onDelta(model.Delta{Reasoning: rc})
				}
			}
			if d.Content != "" {
				textBuf.WriteString(d.Content)
				if onDelta != nil {
					onDelta(model.Delta{Content: d.Content})
				}
			}
			for _, tc := range d.ToolCalls {
				for len(pending) <= tc.Index {
					pending = append(pending, &pendingToolCall{})
				}
				entry := pending[tc.Index]
				if tc.ID != "" {
					entry.id = tc.ID
				}
				if tc.Function != nil {
					entry.name += tc.Function.Name
					entry.args.WriteString(tc.Function.Arguments)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	var toolCalls []domain.ToolCall
	for _, p := range pending {
		if p.name == "" {
			continue
		}
		toolCalls = append(toolCalls, domain.ToolCall{
			ID:        p.id,
			Name:      p.name,
			Arguments: p.args.String(),
		})
	}

	// Some providers put the entire response in the reasoning field and
	// leave content empty — fall back so the answer is not lost.
	text := textBuf.String()
	if text == "" && reasoningBuf.Len() > 0 {
		text = reasoningBuf.String()
	}

	return &model.Response{
		Text:         text,
		ToolCalls:    toolCalls,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

// buildMessages flattens history into the OpenAI messages array: system
// first, assistant tool_calls attached, tool results as individual messages
// keyed by tool_call_id.
func buildMessages(system string, messages []domain.Message) []json.RawMessage {
	var out []json.RawMessage
	push := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		out = append(out, b)
	}

	if system != "" {
		push(map[string]any{"role": "system", "content": system})
	}

	for _, msg := range messages {
		switch {
		case msg.Role == domain.RoleTool:
			push(map[string]any{
				"role":         "tool",
				"tool_call_id": msg.ToolCallID,
				"content":      msg.Content,
			})
		case len(msg.ToolCalls) > 0:
			calls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": tc.Arguments,
					},
				})
			}
			push(map[string]any{
				"role":       string(msg.Role),
				"content":    msg.Content,
				"tool_calls": calls,
			})
		default:
			push(map[string]any{"role": string(msg.Role), "content": msg.Content})
		}
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
