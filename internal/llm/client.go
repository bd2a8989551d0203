// Package llm is the gateway to LLM backends: an OpenAI-compatible HTTP
// client, the transient/permanent error taxonomy, and a scripted mock for
// tests.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arlo/internal/agent/ports"
	"arlo/internal/logging"
)

// Config configures the HTTP client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string // empty disables embeddings
	Timeout    time.Duration
}

// Client speaks the OpenAI-compatible chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient builds a provider for an OpenAI-compatible endpoint.
func NewClient(cfg Config, log *logging.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.OrNop(log).Component("llm"),
	}
}

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) SupportsTools() bool { return true }

// Complete sends a chat completion request and maps the response into the
// runtime's shape.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	oaiReq := map[string]any{
		"model":       c.cfg.Model,
		"messages":    convertMessages(req.Messages),
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		oaiReq["tools"] = convertTools(req.Tools)
		oaiReq["tool_choice"] = "auto"
	}

	respBody, err := c.post(ctx, "/chat/completions", oaiReq)
	if err != nil {
		return nil, err
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, NewTransientError("no choices in response")
	}

	choice := oaiResp.Choices[0]
	result := &ports.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: ports.TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			c.log.Warn("unparseable tool call arguments", "tool", tc.Function.Name, "err", err)
			args = map[string]any{}
		}
		result.ToolCalls = append(result.ToolCalls, ports.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if len(result.ToolCalls) > 0 && result.FinishReason == "" {
		result.FinishReason = ports.FinishToolCalls
	}
	return result, nil
}

// Embed generates a dense vector via the embeddings endpoint.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.EmbedModel == "" {
		return nil, ports.ErrEmbeddingsUnavailable
	}

	respBody, err := c.post(ctx, "/embeddings", map[string]any{
		"model": c.cfg.EmbedModel,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ports.ErrEmbeddingsUnavailable, err)
	}

	var embResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("%w: decode: %s", ports.ErrEmbeddingsUnavailable, err)
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, ports.ErrEmbeddingsUnavailable
	}
	return embResp.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func convertMessages(msgs []ports.Message) []map[string]any {
	result := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		entry := map[string]any{"role": msg.Role, "content": msg.Content}
		if msg.ToolCallID != "" {
			entry["tool_call_id"] = msg.ToolCallID
		}
		if msg.Name != "" {
			entry["name"] = msg.Name
		}
		if len(msg.ToolCalls) > 0 {
			calls := make([]map[string]any, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(args),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		result = append(result, entry)
	}
	return result
}

func convertTools(tools []ports.ToolDefinition) []map[string]any {
	result := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.Parameters,
			},
		})
	}
	return result
}
