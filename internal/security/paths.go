package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a path escapes its containment root.
var ErrOutsideRoot = errors.New("path escapes containment root")

// EnsureWithin verifies that path stays inside root and returns its
// cleaned absolute form (symlink-resolved when the path exists). The
// check is lexical first; for existing paths the symlink-resolved form
// is checked against the resolved root too, so a link pointing outside
// the root is rejected. Skill executable paths are validated through
// here before they are stored or handed to clients.
func EnsureWithin(root, path string) (string, error) {
	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if !contained(absRoot, absPath) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path does not exist yet; the lexical check stands.
		return absPath, nil
	}
	resolvedRoot := absRoot
	if rr, err := filepath.EvalSymlinks(absRoot); err == nil {
		resolvedRoot = rr
	}
	if !contained(resolvedRoot, resolvedPath) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return resolvedPath, nil
}

func contained(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
