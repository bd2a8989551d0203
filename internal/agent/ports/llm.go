package ports

import "context"

// Provider represents any LLM backend capable of chat completion and,
// optionally, text embedding.
type Provider interface {
	// Complete sends messages and returns a response (non-streaming)
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Embed generates a dense vector for the given text. Providers without
	// an embedding endpoint return ErrEmbeddingsUnavailable.
	Embed(ctx context.Context, text string) ([]float32, error)

	// SupportsTools reports whether the provider honors tool schemas
	SupportsTools() bool

	// Model returns the model identifier
	Model() string
}

// CompletionRequest contains all parameters for an LLM completion
type CompletionRequest struct {
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// CompletionResponse is the LLM's response
type CompletionResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop" | "tool_calls" | "length"
	Usage        TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message represents a conversation turn. Content may be empty on assistant
// turns that carry tool calls. ToolCallID and Name are set on tool turns.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Role constants for Message
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons reported by providers
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)
