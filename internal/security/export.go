// Package security validates file paths supplied on the command line.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowedDirs is returned for a path that resolves outside
// every allowed directory.
var ErrOutsideAllowedDirs = errors.New("path outside allowed directories")

// canonical resolves symlinks in path. For a path that does not exist yet
// the nearest existing ancestor is resolved and the rest appended, so a
// symlinked parent cannot redirect a new file.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rest := ""
	dir := abs
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// Within reports whether path resolves inside dir.
func Within(path, dir string) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, err
	}
	d, err := canonical(dir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false, nil
	}
	return true, nil
}

// ValidatePathWithinAllowedDirs returns nil when path resolves inside one
// of dirs.
func ValidatePathWithinAllowedDirs(path string, dirs []string) error {
	if len(dirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range dirs {
		ok, err := Within(path, dir)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not within %v", ErrOutsideAllowedDirs, path, dirs)
}

// ValidateExportPath accepts paths under the temp directory or the
// working directory.
func ValidateExportPath(path string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(path, []string{os.TempDir(), cwd})
}

const maxFilenameLen = 128

// SanitizeFilename turns an identifier into a file name component. Runs
// of characters other than ASCII letters, digits, '.', '_' and '-' become
// one underscore; leading and trailing dots and underscores are dropped.
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r < 128 && (r == '.' || r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')):
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
		default:
			pending = b.Len() > 0
		}
	}
	if out := strings.Trim(b.String(), "._"); out != "" {
		return out
	}
	return "unknown"
}
