// Package builtin holds the tool implementations shipped with the runtime:
// workspace file operations, shell execution, source-tree access, scheduling
// and project management. Tools report failures through ToolResult.Error so
// the model can observe and recover from them.
package builtin

import (
	"fmt"
	"strconv"

	"arlo/internal/agent/ports"
)

// stringArg extracts a required string argument.
func stringArg(call ports.ToolCall, key string) (string, error) {
	v, ok := call.Arguments[key]
	if !ok {
		return "", fmt.Errorf("missing '%s'", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("'%s' must be a string", key)
	}
	return s, nil
}

// optStringArg extracts an optional string argument with a default.
func optStringArg(call ports.ToolCall, key, def string) string {
	if v, ok := call.Arguments[key].(string); ok && v != "" {
		return v
	}
	return def
}

// optIntArg extracts an optional integer argument; JSON numbers arrive as
// float64.
func optIntArg(call ports.ToolCall, key string, def int) int {
	switch v := call.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// idArg extracts a required integer id, tolerating the spellings models
// actually produce.
func idArg(call ports.ToolCall, key string) (int64, error) {
	switch v := call.Arguments[key].(type) {
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("'%s' is not a valid id: %q", key, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("missing '%s'", key)
}

// objArg extracts a required object argument.
func objArg(call ports.ToolCall, key string) (map[string]any, error) {
	v, ok := call.Arguments[key]
	if !ok {
		return nil, fmt.Errorf("missing '%s'", key)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("'%s' must be an object", key)
	}
	return m, nil
}

func fail(call ports.ToolCall, err error) *ports.ToolResult {
	return &ports.ToolResult{CallID: call.ID, Error: err}
}

func ok(call ports.ToolCall, content string) *ports.ToolResult {
	return &ports.ToolResult{CallID: call.ID, Content: content}
}
