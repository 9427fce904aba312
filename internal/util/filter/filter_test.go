package filter

import (
	"reflect"
	"testing"

	"github.com/oceanhydro/hydrodl/internal/models"
)

func entries(names ...string) []models.ArchiveFileEntry {
	out := make([]models.ArchiveFileEntry, len(names))
	for i, n := range names {
		out[i] = models.ArchiveFileEntry{Filename: n, Extension: models.ExtensionOf(n)}
	}
	return out
}

func names(files []models.ArchiveFileEntry) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Filename
	}
	return out
}

func TestIsReducedRendition(t *testing.T) {
	tests := map[string]bool{
		"ICLISTENHF1251_20230101T000000.000Z-spect.png":       false,
		"ICLISTENHF1251_20230101T000000.000Z-spect-small.png": true,
		"ICLISTENHF1251_20230101T000000.000Z-spect-thumb.png": true,
		"ICLISTENHF1251_20230101T000000.000Z-SPECT-SMALL.PNG": true,
		"ICLISTENHF1251_20230101T000000.000Z.wav":             false,
		"something-small.txt":                                 false,
	}
	for name, want := range tests {
		if got := IsReducedRendition(name); got != want {
			t.Errorf("IsReducedRendition(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExcludeReducedRenditions(t *testing.T) {
	in := entries("a.png", "a-small.png", "a-thumb.png", "b.wav")
	got := names(ExcludeReducedRenditions(in))
	want := []string{"a.png", "b.wav"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExcludeReducedRenditions() = %v, want %v", got, want)
	}
}

func TestApplyToArchiveFiles(t *testing.T) {
	files := entries(
		"ICLISTENHF1251_20230101T000000.000Z.wav",
		"ICLISTENHF1251_20230101T001000.000Z.wav",
		"ICLISTENHF1251_20230101T000000.000Z.flac",
		"ICLISTENHF1252_20230101T000000.000Z.wav",
	)

	tests := []struct {
		name   string
		config Config
		want   int
	}{
		{"no filter", Config{}, 4},
		{"include wav", Config{Include: []string{"*.wav"}}, 3},
		{"include brace", Config{Include: []string{"*.{wav,flac}"}}, 4},
		{"exclude wins", Config{Include: []string{"*.wav"}, Exclude: []string{"ICLISTENHF1252*"}}, 2},
		{"search all terms", Config{Search: []string{"hf1251", "T0000"}}, 2},
		{"nothing", Config{Include: []string{"*.mat"}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyToArchiveFiles(files, tt.config); len(got) != tt.want {
				t.Errorf("ApplyToArchiveFiles() = %v, want %d files", names(got), tt.want)
			}
		})
	}
}

func TestValidatePatterns(t *testing.T) {
	if err := ValidatePatterns([]string{"*.wav", "**/x"}); err != nil {
		t.Errorf("ValidatePatterns() error = %v", err)
	}
	if err := ValidatePatterns([]string{"[abc"}); err == nil {
		t.Error("ValidatePatterns() expected error for unclosed class")
	}
}

func TestParsePatternList(t *testing.T) {
	got := ParsePatternList(" *.wav, ,*.flac ")
	want := []string{"*.wav", "*.flac"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePatternList() = %v, want %v", got, want)
	}
	if ParsePatternList("") != nil {
		t.Error("ParsePatternList(\"\") should be nil")
	}
}
