package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"arlo/internal/agent/ports"
	"arlo/internal/workspace"
)

type readFile struct{}

// NewReadFile reads a file inside the active workspace.
func NewReadFile() ports.ToolExecutor { return &readFile{} }

func (t *readFile) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	full, err := workspace.Resolve(path)
	if err != nil {
		return fail(call, err), nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return fail(call, err), nil
	}
	return ok(call, string(content)), nil
}

func (t *readFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file inside the workspace",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Workspace-relative path of the file to read"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *readFile) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "read_file", Category: "workspace"}
}

type writeFile struct{}

// NewWriteFile writes (or overwrites) a file, creating parent directories.
func NewWriteFile() ports.ToolExecutor { return &writeFile{} }

func (t *writeFile) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	content, err := stringArg(call, "content")
	if err != nil {
		return fail(call, err), nil
	}
	full, err := workspace.Resolve(path)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fail(call, err), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Wrote %s (%d bytes)", path, len(content))), nil
}

func (t *writeFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "write_file",
		Description: "Write or overwrite a file inside the workspace, creating directories as needed",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "Workspace-relative path"},
				"content": {Type: "string", Description: "Content to write"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *writeFile) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "write_file", Category: "workspace", Mutating: true}
}

type appendFile struct{}

// NewAppendFile appends to a file, creating it if absent.
func NewAppendFile() ports.ToolExecutor { return &appendFile{} }

func (t *appendFile) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	content, err := stringArg(call, "content")
	if err != nil {
		return fail(call, err), nil
	}
	full, err := workspace.Resolve(path)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fail(call, err), nil
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fail(call, err), nil
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Appended to %s", path)), nil
}

func (t *appendFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "append_file",
		Description: "Append content to a file (created if missing)",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "Workspace-relative path"},
				"content": {Type: "string", Description: "Content to append"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *appendFile) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "append_file", Category: "workspace", Mutating: true}
}

type deleteFile struct{}

// NewDeleteFile removes a file from the workspace.
func NewDeleteFile() ports.ToolExecutor { return &deleteFile{} }

func (t *deleteFile) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	full, err := workspace.Resolve(path)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.Remove(full); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Deleted %s", path)), nil
}

func (t *deleteFile) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "delete_file",
		Description: "Delete a file inside the workspace",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Workspace-relative path of the file to delete"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *deleteFile) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "delete_file", Category: "workspace", Mutating: true}
}

type listFiles struct{}

// NewListFiles lists one directory level inside the workspace.
func NewListFiles() ports.ToolExecutor { return &listFiles{} }

func (t *listFiles) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	dir := optStringArg(call, "path", ".")
	full, err := workspace.Resolve(dir)
	if err != nil {
		return fail(call, err), nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return fail(call, err), nil
	}
	if len(entries) == 0 {
		return ok(call, "(empty directory)"), nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "[dir]  %s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(&b, "[file] %s\n", e.Name())
			continue
		}
		fmt.Fprintf(&b, "[file] %s (%d bytes)\n", e.Name(), info.Size())
	}
	return ok(call, strings.TrimRight(b.String(), "\n")), nil
}

func (t *listFiles) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_files",
		Description: "List files and directories inside the workspace",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory to list, relative to the workspace root", Default: "."},
			},
		},
	}
}

func (t *listFiles) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "list_files", Category: "workspace"}
}

type makeDir struct{}

// NewMakeDir creates a directory tree inside the workspace.
func NewMakeDir() ports.ToolExecutor { return &makeDir{} }

func (t *makeDir) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	full, err := workspace.Resolve(path)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Created directory %s", path)), nil
}

func (t *makeDir) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "make_dir",
		Description: "Create a directory (and parents) inside the workspace",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Workspace-relative path"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *makeDir) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "make_dir", Category: "workspace", Mutating: true}
}

// checkPath accepts absolute paths as well: agents use it to verify work
// that landed outside the workspace.
type checkPath struct{}

// NewCheckPath reports whether a path exists and what it is.
func NewCheckPath() ports.ToolExecutor { return &checkPath{} }

func (t *checkPath) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	full := path
	if !filepath.IsAbs(full) {
		full, err = workspace.Resolve(path)
		if err != nil {
			return fail(call, err), nil
		}
	}

	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return ok(call, fmt.Sprintf("Does not exist: %s", full)), nil
	}
	if err != nil {
		return fail(call, err), nil
	}
	if !info.IsDir() {
		return ok(call, fmt.Sprintf("File: %s\n  Size: %d bytes", full, info.Size())), nil
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return ok(call, fmt.Sprintf("Directory (unreadable): %s", full)), nil
	}
	files, dirs := 0, 0
	var sample []string
	for _, e := range entries {
		if e.IsDir() {
			dirs++
		} else {
			files++
		}
		if len(sample) < 8 {
			sample = append(sample, e.Name())
		}
	}
	listing := strings.Join(sample, ", ")
	if len(entries) > 8 {
		listing += "..."
	}
	return ok(call, fmt.Sprintf("Directory: %s\n  %d files, %d subdirectories\n  Contents: %s", full, files, dirs, listing)), nil
}

func (t *checkPath) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "check_path",
		Description: "Check whether a path exists and describe it. Accepts absolute paths or workspace-relative ones. Use it to confirm a file or directory was created.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Path to check, absolute or workspace-relative"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *checkPath) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "check_path", Category: "workspace"}
}
