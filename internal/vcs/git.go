// Package vcs shells out to git for the auto-commit hook and the
// improvement loop's branch lifecycle.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Git runs commands against one repository working directory.
type Git struct {
	Dir string
}

// Run executes a git command and returns the trimmed combined output.
func (g Git) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.Dir
	cmd.Env = mergeEnv(os.Environ(), map[string]string{
		"GIT_PAGER":           "cat",
		"GIT_TERMINAL_PROMPT": "0",
		"GIT_SSH_COMMAND":     "ssh -oBatchMode=yes",
		"NO_COLOR":            "1",
	})
	output, err := cmd.CombinedOutput()
	result := string(output)
	if err != nil {
		cleaned := strings.TrimSpace(result)
		if cleaned != "" {
			return "", fmt.Errorf("git %s failed: %s", strings.Join(args, " "), cleaned)
		}
		return "", fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(result), nil
}

// IsRepo reports whether Dir is inside a git work tree.
func (g Git) IsRepo(ctx context.Context) bool {
	_, err := g.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Init creates a repository when none exists yet.
func (g Git) Init(ctx context.Context) error {
	if g.IsRepo(ctx) {
		return nil
	}
	_, err := g.Run(ctx, "init")
	return err
}

// CurrentBranch returns the checked-out branch name.
func (g Git) CurrentBranch(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CommitAll stages everything and commits. A clean tree is not an error.
func (g Git) CommitAll(ctx context.Context, message string) error {
	if _, err := g.Run(ctx, "add", "-A"); err != nil {
		return err
	}
	status, err := g.Run(ctx, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	_, err = g.Run(ctx, "commit", "-m", message)
	return err
}

// CreateBranch creates and checks out a branch.
func (g Git) CreateBranch(ctx context.Context, name string) error {
	_, err := g.Run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches branches.
func (g Git) Checkout(ctx context.Context, name string) error {
	_, err := g.Run(ctx, "checkout", name)
	return err
}

// DeleteBranch force-deletes a branch.
func (g Git) DeleteBranch(ctx context.Context, name string) error {
	_, err := g.Run(ctx, "branch", "-D", name)
	return err
}

// Merge merges the named branch into the current one.
func (g Git) Merge(ctx context.Context, name string) error {
	_, err := g.Run(ctx, "merge", "--no-edit", name)
	return err
}

// ChangedFiles lists paths that differ from the given ref, including
// untracked files.
func (g Git) ChangedFiles(ctx context.Context, ref string) ([]string, error) {
	diff, err := g.Run(ctx, "diff", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	untracked, err := g.Run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var files []string
	for _, line := range strings.Split(diff+"\n"+untracked, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !seen[line] {
			seen[line] = true
			files = append(files, line)
		}
	}
	return files, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if idx := strings.Index(entry, "="); idx != -1 {
			env[entry[:idx]] = entry[idx+1:]
		}
	}
	for key, value := range overrides {
		env[key] = value
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(env))
	for _, key := range keys {
		merged = append(merged, key+"="+env[key])
	}
	return merged
}
