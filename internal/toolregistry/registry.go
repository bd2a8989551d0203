// Package toolregistry holds the process-wide tool table and the dispatch
// path every model-requested invocation goes through: argument
// normalization, containment, execution, error enrichment, and the
// post-mutation auto-commit hook.
package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"arlo/internal/agent/ports"
	"arlo/internal/logging"
	"arlo/internal/vcs"
	"arlo/internal/workspace"
)

// Registry is a concurrency-safe name-to-executor table. Registration is
// last-writer-wins; typical use registers everything at startup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ports.ToolExecutor
	log   *logging.Logger

	// autoCommit, when set, runs after every successful mutating tool.
	// Failures are swallowed: a broken repo must not break the tool call.
	autoCommit func(ctx context.Context, toolName string)
}

// New creates an empty registry.
func New(log *logging.Logger) *Registry {
	return &Registry{
		tools: make(map[string]ports.ToolExecutor),
		log:   logging.OrNop(log).Component("registry"),
	}
}

// EnableAutoCommit installs the post-mutation hook committing the active
// workspace after every successful call to a tool whose metadata marks it
// mutating.
func (r *Registry) EnableAutoCommit() {
	r.autoCommit = func(ctx context.Context, toolName string) {
		git := vcs.Git{Dir: workspace.Root()}
		if !git.IsRepo(ctx) {
			return
		}
		msg := fmt.Sprintf("auto: %s at %s", toolName, time.Now().UTC().Format("2006-01-02 15:04:05"))
		if err := git.CommitAll(ctx, msg); err != nil {
			r.log.Debug("auto-commit skipped", "tool", toolName, "err", err)
		}
	}
}

// Register adds a tool. An existing name is replaced.
func (r *Registry) Register(tool ports.ToolExecutor) error {
	def := tool.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		r.log.Warn("replacing registered tool", "name", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool '%s' not found", name)
	}
	return tool, nil
}

// Invoke dispatches a call. It never panics and never returns an error:
// every failure becomes a ToolResult the model can observe.
func (r *Registry) Invoke(ctx context.Context, call ports.ToolCall) *ports.ToolResult {
	tool, err := r.Get(call.Name)
	if err != nil {
		return &ports.ToolResult{CallID: call.ID, Error: err}
	}
	meta := tool.Metadata()

	rawPath, normalized, pathArg := r.normalizePath(meta, call)

	result, execErr := tool.Execute(ctx, call)
	if result == nil {
		result = &ports.ToolResult{CallID: call.ID}
	}
	if execErr != nil && result.Error == nil {
		result.Error = execErr
	}
	result.CallID = call.ID

	if result.Error != nil && pathArg && rawPath != normalized {
		result.Error = fmt.Errorf(
			"%w (path %q normalized to %q; use list_files/check_path first)",
			result.Error, rawPath, normalized,
		)
	} else if result.Error != nil && pathArg {
		result.Error = fmt.Errorf("%w (path %q; use list_files/check_path first)", result.Error, rawPath)
	}

	if result.Error == nil && meta.Mutating && r.autoCommit != nil {
		r.autoCommit(ctx, call.Name)
	}
	return result
}

// normalizePath rewrites the path argument of non-mutating tools in place
// and returns the raw and normalized spellings for error enrichment.
// Mutating tools receive their arguments untouched: a malformed write path
// must fail loudly rather than be silently rewritten.
func (r *Registry) normalizePath(meta ports.ToolMetadata, call ports.ToolCall) (raw, normalized string, ok bool) {
	if meta.Mutating || call.Arguments == nil {
		return "", "", false
	}
	v, present := call.Arguments["path"]
	if !present {
		return "", "", false
	}
	raw, _ = v.(string)
	normalized = workspace.Normalize(raw)
	call.Arguments["path"] = normalized
	return raw, normalized, true
}

// List returns all registered tool definitions, sorted by name.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	defs := r.List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// DescribeForPrompt renders a human-readable capability listing for system
// prompts.
func (r *Registry) DescribeForPrompt() string {
	defs := r.List()
	if len(defs) == 0 {
		return "No tools available."
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
