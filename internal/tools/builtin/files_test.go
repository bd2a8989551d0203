package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/agent/ports"
	"arlo/internal/workspace"
)

func setWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, workspace.Set(dir))
	return dir
}

func call(name string, args map[string]any) ports.ToolCall {
	return ports.ToolCall{ID: "tc", Name: name, Arguments: args}
}

func TestWriteReadRoundTrip(t *testing.T) {
	setWorkspace(t)

	res, err := NewWriteFile().Execute(context.Background(), call("write_file", map[string]any{
		"path": "notes/today.md", "content": "hello",
	}))
	require.NoError(t, err)
	require.True(t, res.Success(), "error: %v", res.Error)
	assert.Contains(t, res.Content, "notes/today.md")

	res, err = NewReadFile().Execute(context.Background(), call("read_file", map[string]any{"path": "notes/today.md"}))
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, "hello", res.Content)
}

func TestAppendCreatesAndExtends(t *testing.T) {
	setWorkspace(t)
	a := NewAppendFile()

	res, _ := a.Execute(context.Background(), call("append_file", map[string]any{"path": "log.txt", "content": "one\n"}))
	require.True(t, res.Success())
	res, _ = a.Execute(context.Background(), call("append_file", map[string]any{"path": "log.txt", "content": "two\n"}))
	require.True(t, res.Success())

	res, _ = NewReadFile().Execute(context.Background(), call("read_file", map[string]any{"path": "log.txt"}))
	assert.Equal(t, "one\ntwo\n", res.Content)
}

func TestDeleteFile(t *testing.T) {
	dir := setWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("x"), 0o644))

	res, _ := NewDeleteFile().Execute(context.Background(), call("delete_file", map[string]any{"path": "gone.txt"}))
	require.True(t, res.Success())
	_, err := os.Stat(filepath.Join(dir, "gone.txt"))
	assert.True(t, os.IsNotExist(err))

	res, _ = NewDeleteFile().Execute(context.Background(), call("delete_file", map[string]any{"path": "gone.txt"}))
	assert.False(t, res.Success())
}

func TestPathEscapeRejected(t *testing.T) {
	setWorkspace(t)

	for _, tool := range []ports.ToolExecutor{NewReadFile(), NewDeleteFile()} {
		res, err := tool.Execute(context.Background(), call("x", map[string]any{"path": "../outside.txt"}))
		require.NoError(t, err)
		require.False(t, res.Success())
		assert.ErrorIs(t, res.Error, workspace.ErrPathEscape)
	}

	res, _ := NewWriteFile().Execute(context.Background(), call("write_file", map[string]any{
		"path": "../../etc/owned", "content": "x",
	}))
	require.False(t, res.Success())
	assert.ErrorIs(t, res.Error, workspace.ErrPathEscape)
}

func TestListFiles(t *testing.T) {
	dir := setWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	res, _ := NewListFiles().Execute(context.Background(), call("list_files", map[string]any{"path": "."}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "[file] a.txt (3 bytes)")
	assert.Contains(t, res.Content, "[dir]  sub/")

	res, _ = NewListFiles().Execute(context.Background(), call("list_files", map[string]any{"path": "sub"}))
	assert.Equal(t, "(empty directory)", res.Content)
}

func TestMakeDir(t *testing.T) {
	dir := setWorkspace(t)

	res, _ := NewMakeDir().Execute(context.Background(), call("make_dir", map[string]any{"path": "a/b/c"}))
	require.True(t, res.Success())
	info, err := os.Stat(filepath.Join(dir, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCheckPath(t *testing.T) {
	dir := setWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("1234"), 0o644))

	res, _ := NewCheckPath().Execute(context.Background(), call("check_path", map[string]any{"path": "f.txt"}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "File:")
	assert.Contains(t, res.Content, "4 bytes")

	// Absolute paths are allowed so agents can verify out-of-workspace work.
	res, _ = NewCheckPath().Execute(context.Background(), call("check_path", map[string]any{"path": dir}))
	assert.Contains(t, res.Content, "Directory:")
	assert.Contains(t, res.Content, "f.txt")

	res, _ = NewCheckPath().Execute(context.Background(), call("check_path", map[string]any{"path": "missing.txt"}))
	require.True(t, res.Success())
	assert.True(t, strings.HasPrefix(res.Content, "Does not exist:"), res.Content)
}

func TestRunCommand(t *testing.T) {
	setWorkspace(t)
	tool := NewRunCommand()

	res, _ := tool.Execute(context.Background(), call("run_command", map[string]any{"command": "echo hi"}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "[exit code: 0]")
	assert.Contains(t, res.Content, "hi")

	res, _ = tool.Execute(context.Background(), call("run_command", map[string]any{"command": "exit 3"}))
	require.True(t, res.Success(), "non-zero exit is an observation, not a tool failure")
	assert.Contains(t, res.Content, "[exit code: 3]")
}

func TestRunCommandTimeout(t *testing.T) {
	setWorkspace(t)

	res, _ := NewRunCommand().Execute(context.Background(), call("run_command", map[string]any{
		"command": "sleep 5", "timeout": float64(1),
	}))
	require.True(t, res.Success())
	assert.Contains(t, res.Content, "Timeout")
}

func TestRunCommandWorkingDirContainment(t *testing.T) {
	setWorkspace(t)

	res, _ := NewRunCommand().Execute(context.Background(), call("run_command", map[string]any{
		"command": "pwd", "working_dir": "../..",
	}))
	require.False(t, res.Success())
	assert.ErrorIs(t, res.Error, workspace.ErrPathEscape)
}

func TestMissingArguments(t *testing.T) {
	setWorkspace(t)

	res, _ := NewReadFile().Execute(context.Background(), call("read_file", map[string]any{}))
	require.False(t, res.Success())
	assert.Contains(t, res.Error.Error(), "missing 'path'")

	res, _ = NewWriteFile().Execute(context.Background(), call("write_file", map[string]any{"path": "f"}))
	require.False(t, res.Success())
	assert.Contains(t, res.Error.Error(), "missing 'content'")
}
