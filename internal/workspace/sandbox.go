// Package workspace enforces path containment for file-operating tools.
// A single process-wide root is mutable across requests because each
// project carries its own workspace directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrPathEscape is returned when a path resolves outside the active root.
var ErrPathEscape = errors.New("path escapes workspace root")

var (
	mu   sync.RWMutex
	root string
)

// Set switches the active workspace root, creating it if needed.
func Set(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	mu.Lock()
	root = abs
	mu.Unlock()
	return nil
}

// Root returns the active workspace root.
func Root() string {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Resolve maps a workspace-relative path to an absolute path, rejecting
// anything that lexically escapes the root.
func Resolve(p string) (string, error) {
	mu.RLock()
	r := root
	mu.RUnlock()
	if r == "" {
		return "", errors.New("workspace root not set")
	}
	return ResolveUnder(r, p)
}

// ResolveUnder applies the containment rule against an arbitrary anchor.
func ResolveUnder(anchor, p string) (string, error) {
	anchorAbs, err := filepath.Abs(anchor)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(anchorAbs, filepath.FromSlash(p))
	resolved := filepath.Clean(joined)
	if resolved != anchorAbs && !strings.HasPrefix(resolved, anchorAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, p)
	}
	return resolved, nil
}

// Normalize collapses the path spellings that mean "workspace root" and
// canonicalizes everything else.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	switch p {
	case "", ".", "./", ".\\":
		return "."
	}
	return filepath.Clean(filepath.FromSlash(p))
}
