package builtin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"arlo/internal/agent/ports"
	"arlo/internal/vcs"
	"arlo/internal/workspace"
)

// The source family operates against the runtime's own repository root
// instead of the agent workspace, so the self-improver can modify the
// system it runs as. Containment is the same lexical rule, anchored at
// the project root.

const (
	sourceListLimit = 80
	testTimeout     = 2 * time.Minute
	gitTimeout      = 30 * time.Second
)

func sourceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return workspace.ProjectRoot(cwd)
}

func resolveSource(p string) (string, string, error) {
	root, err := sourceRoot()
	if err != nil {
		return "", "", err
	}
	full, err := workspace.ResolveUnder(root, p)
	return root, full, err
}

type readSource struct{}

// NewReadSource reads a file from the runtime's own source tree.
func NewReadSource() ports.ToolExecutor { return &readSource{} }

func (t *readSource) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	_, full, err := resolveSource(path)
	if err != nil {
		return fail(call, err), nil
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return fail(call, err), nil
	}
	return ok(call, string(content)), nil
}

func (t *readSource) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "read_source",
		Description: "Read a file from the system's own source code (for self-improvement). Path is relative to the repository root.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Repository-relative path, e.g. internal/agent/agent.go"},
			},
			Required: []string{"path"},
		},
	}
}

func (t *readSource) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "read_source", Category: "source"}
}

type writeSource struct{}

// NewWriteSource modifies the runtime's own source tree.
func NewWriteSource() ports.ToolExecutor { return &writeSource{} }

func (t *writeSource) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	path, err := stringArg(call, "path")
	if err != nil {
		return fail(call, err), nil
	}
	content, err := stringArg(call, "content")
	if err != nil {
		return fail(call, err), nil
	}
	_, full, err := resolveSource(path)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fail(call, err), nil
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Source file written: %s (%d bytes)", path, len(content))), nil
}

func (t *writeSource) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "write_source",
		Description: "Write or modify a file of the system's own source code. Always verify with run_tests afterwards.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path":    {Type: "string", Description: "Repository-relative path"},
				"content": {Type: "string", Description: "Full file content to write"},
			},
			Required: []string{"path", "content"},
		},
	}
}

func (t *writeSource) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "write_source", Category: "source", Mutating: true}
}

type listSource struct{}

// NewListSource lists the runtime's source tree recursively.
func NewListSource() ports.ToolExecutor { return &listSource{} }

func (t *listSource) Execute(_ context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	dir := optStringArg(call, "path", ".")
	root, full, err := resolveSource(dir)
	if err != nil {
		return fail(call, err), nil
	}

	var lines []string
	walkErr := filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() && (strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules") && p != full {
			return filepath.SkipDir
		}
		if p == full || strings.HasPrefix(name, ".") {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		if d.IsDir() {
			lines = append(lines, "[dir]  "+rel+"/")
		} else {
			lines = append(lines, "[file] "+rel)
		}
		if len(lines) >= sourceListLimit {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return fail(call, walkErr), nil
	}
	if len(lines) == 0 {
		return ok(call, "(empty)"), nil
	}
	return ok(call, strings.Join(lines, "\n")), nil
}

func (t *listSource) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "list_source",
		Description: "List files of the system's own source code",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"path": {Type: "string", Description: "Directory relative to the repository root", Default: "."},
			},
		},
	}
}

func (t *listSource) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "list_source", Category: "source"}
}

type runTests struct{}

// NewRunTests runs the repository test suite.
func NewRunTests() ports.ToolExecutor { return &runTests{} }

func (t *runTests) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	pkgs := optStringArg(call, "packages", "./...")
	root, err := sourceRoot()
	if err != nil {
		return fail(call, err), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "go", "test", pkgs)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return ok(call, fmt.Sprintf("Test run timed out after %s.\n%s", testTimeout, out)), nil
	}
	if err != nil {
		return ok(call, fmt.Sprintf("[tests failed]\n%s", out)), nil
	}
	return ok(call, fmt.Sprintf("[tests passed]\n%s", out)), nil
}

func (t *runTests) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "run_tests",
		Description: "Run the system's test suite. Always use after modifying source code.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"packages": {Type: "string", Description: "Package pattern to test (default ./...)", Default: "./..."},
			},
		},
	}
}

func (t *runTests) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "run_tests", Category: "source"}
}

type gitCommit struct{}

// NewGitCommit stages everything and commits at the repository root.
func NewGitCommit() ports.ToolExecutor { return &gitCommit{} }

func (t *gitCommit) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	message, err := stringArg(call, "message")
	if err != nil {
		return fail(call, err), nil
	}
	root, err := sourceRoot()
	if err != nil {
		return fail(call, err), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	git := vcs.Git{Dir: root}
	if !git.IsRepo(runCtx) {
		return fail(call, fmt.Errorf("%s is not a git repository", root)), nil
	}
	if err := git.CommitAll(runCtx, message); err != nil {
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("Committed: %s", message)), nil
}

func (t *gitCommit) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "git_commit",
		Description: "Stage all changes and commit at the repository root. Use only after the tests pass.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"message": {Type: "string", Description: "Commit message"},
			},
			Required: []string{"message"},
		},
	}
}

func (t *gitCommit) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "git_commit", Category: "source"}
}
