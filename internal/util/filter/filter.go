// Package filter selects archive files by name.
package filter

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/oceanhydro/hydrodl/internal/models"
)

// ReducedRenditionPatterns match the small and thumbnail PNG variants that
// ONC archives next to every full-size spectrogram.
var ReducedRenditionPatterns = []string{"*-small.png", "*-thumb.png"}

// Config holds filter configuration.
type Config struct {
	// Include patterns (doublestar globs). Empty means include all.
	// Example: []string{"*.wav", "ICLISTENHF1251_2023*"}
	Include []string

	// Exclude patterns. Takes precedence over Include.
	Exclude []string

	// Search terms (case-insensitive substring match).
	// File must match ALL search terms to be included.
	Search []string
}

// Empty reports whether the config filters nothing.
func (c Config) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0
}

// IsReducedRendition reports whether filename is a small or thumbnail PNG.
func IsReducedRendition(filename string) bool {
	return matchesAny(strings.ToLower(filename), ReducedRenditionPatterns)
}

// ExcludeReducedRenditions drops reduced PNG renditions from a listing.
func ExcludeReducedRenditions(files []models.ArchiveFileEntry) []models.ArchiveFileEntry {
	out := make([]models.ArchiveFileEntry, 0, len(files))
	for _, f := range files {
		if !IsReducedRendition(f.Filename) {
			out = append(out, f)
		}
	}
	return out
}

// ApplyToArchiveFiles filters archive entries by the filter configuration.
func ApplyToArchiveFiles(files []models.ArchiveFileEntry, config Config) []models.ArchiveFileEntry {
	if config.Empty() {
		return files
	}

	filtered := make([]models.ArchiveFileEntry, 0, len(files))
	for _, f := range files {
		if Matches(f.Filename, config) {
			filtered = append(filtered, f)
		}
	}
	return filtered
}

// Matches checks if a filename matches the filter configuration.
func Matches(filename string, config Config) bool {
	// 1. Exclude patterns first (highest priority)
	if matchesAny(filename, config.Exclude) {
		return false
	}

	// 2. Include patterns
	if len(config.Include) > 0 && !matchesAny(filename, config.Include) {
		return false
	}

	// 3. Search terms
	lower := strings.ToLower(filename)
	for _, term := range config.Search {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}

	return true
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, err := doublestar.Match(pattern, name); err == nil && matched {
			return true
		}
	}
	return false
}

// ValidatePatterns returns an error for the first malformed pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return &PatternError{Pattern: p}
		}
	}
	return nil
}

// PatternError reports a malformed glob.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return "invalid pattern: " + e.Pattern
}

// ParsePatternList parses a comma-separated list of patterns into a slice.
// Example: "*.wav,*.flac" -> []string{"*.wav", "*.flac"}
func ParsePatternList(patternStr string) []string {
	if patternStr == "" {
		return nil
	}
	parts := strings.Split(patternStr, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}
