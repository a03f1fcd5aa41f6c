package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// confine reports ErrTraversal when path, after resolving symlinks, lies
// outside root. Missing trailing components are allowed.
func confine(root, path string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving mirror root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolving mirror root symlinks: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	resolved, err := resolveExisting(absPath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	if resolved != realRoot && !strings.HasPrefix(resolved, realRoot+string(filepath.Separator)) {
		return ErrTraversal
	}
	return nil
}

// resolveExisting resolves symlinks along the longest existing prefix of
// path and appends the rest unchanged.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir, base := filepath.Dir(path), filepath.Base(path)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
