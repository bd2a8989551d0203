// Package agent runs the reason/call-tools/observe loop for one
// role-specialized agent against the LLM provider and the tool registry.
package agent

import (
	"context"
	"fmt"
	"time"

	"arlo/internal/agent/ports"
	"arlo/internal/llm"
	"arlo/internal/logging"
)

const (
	// DefaultMaxIterations bounds provider calls per run.
	DefaultMaxIterations = 20

	maxRetries   = 2
	retryBackoff = time.Second
)

// Context is the input to one agent run.
type Context struct {
	TaskID          string
	TaskDescription string
	MemoryContext   string
}

// Result is the outcome of one agent run. Errors are carried as strings;
// the loop never propagates provider failures upward.
type Result struct {
	TaskID        string
	AgentName     string
	Success       bool
	Output        string
	ToolCallsMade int
	Error         string
	TokensUsed    int
}

// Agent is one role bound to a provider and a registry.
type Agent struct {
	role          Role
	provider      ports.Provider
	registry      ports.ToolRegistry
	log           *logging.Logger
	maxIterations int
	temperature   float64
}

// Option tweaks agent construction.
type Option func(*Agent)

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// New builds an agent for the named role.
func New(roleName string, provider ports.Provider, registry ports.ToolRegistry, log *logging.Logger, opts ...Option) *Agent {
	a := &Agent{
		role:          RoleByName(roleName),
		provider:      provider,
		registry:      registry,
		log:           logging.OrNop(log).Component("agent." + RoleByName(roleName).Name),
		maxIterations: DefaultMaxIterations,
		temperature:   0.7,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent's role name.
func (a *Agent) Name() string { return a.role.Name }

// Run drives the loop to completion: up to maxIterations provider calls,
// executing requested tools in emission order between calls.
func (a *Agent) Run(ctx context.Context, in Context) Result {
	result := Result{TaskID: in.TaskID, AgentName: a.role.Name}

	toolList := ""
	var tools []ports.ToolDefinition
	if a.registry != nil && a.provider.SupportsTools() {
		tools = a.registry.List()
		toolList = describeTools(tools)
	}

	messages := []ports.Message{
		{Role: ports.RoleSystem, Content: renderPrompt(a.role.PromptTemplate, in.TaskDescription, in.MemoryContext, toolList)},
		{Role: ports.RoleUser, Content: in.TaskDescription},
	}

	for i := 0; i < a.maxIterations; i++ {
		resp, err := a.completeWithRetry(ctx, ports.CompletionRequest{
			Messages:    messages,
			Tools:       tools,
			Temperature: a.temperature,
		})
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.TokensUsed += usageTokens(resp)

		if len(resp.ToolCalls) > 0 {
			// One assistant message carries the raw tool calls; each call
			// gets a paired tool message, appended in emission order.
			messages = append(messages, ports.Message{
				Role:      ports.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				toolResult := a.registry.Invoke(ctx, call)
				result.ToolCallsMade++
				messages = append(messages, ports.Message{
					Role:       ports.RoleTool,
					ToolCallID: call.ID,
					Name:       call.Name,
					Content:    toolResult.Observation(),
				})
			}
			continue
		}

		result.Success = true
		result.Output = resp.Content
		return result
	}

	result.Error = "max iterations reached"
	return result
}

// completeWithRetry applies the retry policy: transient failures retry
// with exponential backoff (1s doubling, up to 2 retries), permanent
// failures surface immediately.
func (a *Agent) completeWithRetry(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	backoff := retryBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			a.log.Warn("retrying provider call", "attempt", attempt, "err", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}
		resp, err := a.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !llm.IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("provider failed after %d retries: %w", maxRetries, lastErr)
}

func usageTokens(resp *ports.CompletionResponse) int {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage.TotalTokens
	}
	if resp.Usage.PromptTokens+resp.Usage.CompletionTokens > 0 {
		return resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	// Providers that omit usage get a local estimate.
	if resp.Content != "" {
		return llm.EstimateTokens(resp.Content)
	}
	return 0
}

func describeTools(tools []ports.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	out := "Available tools:\n"
	for _, t := range tools {
		out += "- " + t.Name + ": " + t.Description + "\n"
	}
	return out
}
