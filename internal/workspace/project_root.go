package workspace

import (
	"errors"
	"os"
	"path/filepath"
)

// ProjectRoot walks upward from start looking for a go.mod marker. The
// source-tool family anchors its containment checks here instead of the
// sandbox root so the agent can operate on its own code base.
func ProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("no go.mod found above " + start)
		}
		dir = parent
	}
}
