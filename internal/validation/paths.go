// Package validation checks names received from the ONC service before
// they are used as local paths.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilename validates a filename (not a full path) to prevent path traversal.
// Use it for names that come from the service (Content-Disposition headers,
// archive listings) before joining them onto the output directory.
//
// Returns an error if the filename:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %q", filename)
	}

	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}

	// Separators are rejected above, so only the bare names remain.
	// "data..v2.wav" is fine.
	if filename == ".." || filename == "." {
		return fmt.Errorf("filename cannot be %q", filename)
	}

	return nil
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
//
// Both path and baseDir are cleaned and made absolute before comparison.
//
//	ValidatePathInDirectory("../../etc/passwd", "/data/onc") // Error: escapes base dir
//	ValidatePathInDirectory("BACAX/file.wav", "/data/onc")   // OK
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cleanBase, resolved)
	}

	rel, err := filepath.Rel(cleanBase, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}

// SafeJoin validates a remote filename and joins it onto dir.
func SafeJoin(dir, filename string) (string, error) {
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	p := filepath.Join(dir, filename)
	if err := ValidatePathInDirectory(p, dir); err != nil {
		return "", err
	}
	return p, nil
}
