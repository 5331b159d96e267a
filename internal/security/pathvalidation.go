// Package security guards file paths derived from runtime state. Config
// saves and database backups both write siblings of operator-named files;
// these checks keep a crafted path or a planted symlink from redirecting
// that write outside the owning directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports whether filePath stays inside safeDir
// once relative components and symlinks are resolved. safeDir must exist.
// filePath may not exist yet, the usual case for a file about to be
// written; its nearest existing ancestor is resolved and the remaining
// components appended, so a symlinked parent cannot smuggle the new file
// out of its apparent location.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in an absolute path. When the path does
// not exist, the walk climbs to the nearest existing ancestor, resolves
// that, and rejoins the missing tail.
func canonicalize(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		if dir == filepath.Dir(dir) {
			// Hit the filesystem root without finding anything that
			// exists; leave the path as given.
			return path
		}
	}
}
