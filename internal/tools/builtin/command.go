package builtin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"arlo/internal/agent/ports"
	"arlo/internal/workspace"
)

const defaultCommandTimeout = 60 * time.Second

type runCommand struct{}

// NewRunCommand executes a shell command inside the workspace with a
// timeout. Stdout and stderr come back combined with the exit code.
func NewRunCommand() ports.ToolExecutor { return &runCommand{} }

func (t *runCommand) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	command, err := stringArg(call, "command")
	if err != nil {
		return fail(call, err), nil
	}
	timeout := time.Duration(optIntArg(call, "timeout", 60)) * time.Second
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	workingDir := optStringArg(call, "working_dir", ".")

	cwd, err := workspace.Resolve(workingDir)
	if err != nil {
		return fail(call, err), nil
	}
	if err := os.MkdirAll(cwd, 0o755); err != nil {
		return fail(call, err), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = cwd
	out, err := cmd.CombinedOutput()

	if runCtx.Err() == context.DeadlineExceeded {
		return ok(call, fmt.Sprintf("Timeout (%s) reached, process killed.\n%s", timeout, out)), nil
	}
	if err != nil {
		if exitErr, isExit := err.(*exec.ExitError); isExit {
			return ok(call, fmt.Sprintf("[exit code: %d]\n%s", exitErr.ExitCode(), out)), nil
		}
		return fail(call, err), nil
	}
	return ok(call, fmt.Sprintf("[exit code: 0]\n%s", out)), nil
}

func (t *runCommand) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "run_command",
		Description: "Run a shell command inside the workspace. Returns stdout+stderr and the exit code. Use for installing packages, running scripts, tests, git, etc.",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"command":     {Type: "string", Description: "Command to run (passed to a shell)"},
				"timeout":     {Type: "integer", Description: "Max run time in seconds (default 60)", Default: 60},
				"working_dir": {Type: "string", Description: "Working directory relative to the workspace root", Default: "."},
			},
			Required: []string{"command"},
		},
	}
}

func (t *runCommand) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "run_command", Category: "workspace"}
}
