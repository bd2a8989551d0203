package llm

import (
	"context"
	"sync"

	"arlo/internal/agent/ports"
)

// MockStep scripts one Complete call: either a response or an error.
type MockStep struct {
	Response *ports.CompletionResponse
	Err      error
}

// Mock is a scripted provider for tests. Each Complete call consumes the
// next step; requests are recorded for assertions. When the script runs
// out, the last step repeats.
type Mock struct {
	mu       sync.Mutex
	steps    []MockStep
	cursor   int
	Requests []ports.CompletionRequest

	EmbedVec []float32
	EmbedErr error
	Tools    bool
}

// NewMock builds a scripted provider from the given steps.
func NewMock(steps ...MockStep) *Mock {
	return &Mock{steps: steps, Tools: true}
}

// Reply is shorthand for a plain final-text step.
func Reply(content string) MockStep {
	return MockStep{Response: &ports.CompletionResponse{
		Content:      content,
		FinishReason: ports.FinishStop,
	}}
}

// ReplyWithUsage is a final-text step carrying token usage.
func ReplyWithUsage(content string, prompt, completion int) MockStep {
	return MockStep{Response: &ports.CompletionResponse{
		Content:      content,
		FinishReason: ports.FinishStop,
		Usage: ports.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}}
}

// CallTools is a step that requests the given tool invocations.
func CallTools(calls ...ports.ToolCall) MockStep {
	return MockStep{Response: &ports.CompletionResponse{
		ToolCalls:    calls,
		FinishReason: ports.FinishToolCalls,
	}}
}

// Fail is a step that errors.
func Fail(err error) MockStep {
	return MockStep{Err: err}
}

func (m *Mock) Complete(_ context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if len(m.steps) == 0 {
		return &ports.CompletionResponse{Content: "", FinishReason: ports.FinishStop}, nil
	}
	step := m.steps[m.cursor]
	if m.cursor < len(m.steps)-1 {
		m.cursor++
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

func (m *Mock) Embed(context.Context, string) ([]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if m.EmbedVec == nil {
		return nil, ports.ErrEmbeddingsUnavailable
	}
	return m.EmbedVec, nil
}

func (m *Mock) SupportsTools() bool { return m.Tools }

func (m *Mock) Model() string { return "mock" }

// Calls returns how many Complete calls the mock has served.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
