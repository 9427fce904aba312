// Package products holds the data-product option presets and turns a
// deployment selection into a submittable request.
package products

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Key identifies a preset by product code and file extension.
type Key struct {
	ProductCode string
	Extension   string
}

func (k Key) String() string { return k.ProductCode + "/" + k.Extension }

func newKey(product, ext string) Key {
	return Key{ProductCode: strings.ToUpper(strings.TrimSpace(product)), Extension: strings.ToLower(strings.TrimSpace(ext))}
}

// SupportedExtensions lists file types the service can still produce for
// hydrophones. WAV and MP3 are no longer offered.
var SupportedExtensions = []string{"acc", "an", "csv", "fft", "flac", "json", "mat", "pdf", "png", "txt"}

// IsSupportedExtension reports whether ext is in SupportedExtensions.
func IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

var staircasePlot = map[string]any{
	"dpo_dataGaps":       1,
	"dpo_qualityControl": 1,
	"dpo_plotType":       "staircase",
	"dpo_plotTitle":      "Time Series Staircase",
	"dpo_plotSize":       "default",
}

var spectrogramPlot = map[string]any{
	"dpo_spectrogramColourPalette":       0,
	"dpo_spectrogramConcatenation":       "None",
	"dpo_spectrogramFrequencyUpperLimit": -1,
	"dpo_upperColourLimit":               -1000,
	"dpo_lowerColourLimit":               -1000,
}

var probabilityDensityPlot = map[string]any{
	"dpo_filePlotBreaks":                                 2,
	"dpo_spectralProbabilityDensityColourAxisUpperLimit": 0,
	"dpo_spectralProbabilityDensityPSDRange":             0,
}

// builtin is the stock option table. Entries with no options are listed so
// that a lookup can tell "no options needed" from "unknown combination".
var builtin = map[Key]map[string]any{
	// Time Series Scalar Data
	{"TSSD", "csv"}:  {},
	{"TSSD", "json"}: {},
	{"TSSD", "mat"}:  {},
	{"TSSD", "txt"}:  {},

	// Time Series Staircase Plot
	{"TSSCP", "pdf"}: staircasePlot,
	{"TSSCP", "png"}: staircasePlot,

	// Time Series Scalar Plot
	{"TSSP", "pdf"}: {},
	{"TSSP", "png"}: {},

	// Hydrophone Spectral Data
	{"HSD", "fft"}: {},
	{"HSD", "mat"}: {
		"dpo_spectrogramConcatenation": "Concatenate",
		"dpo_spectralDataDownsample":   1,
	},
	{"HSD", "pdf"}: spectrogramPlot,
	{"HSD", "png"}: spectrogramPlot,

	// Hydrophone Spectral Probability Density
	{"HSPD", "mat"}: {"dpo_filePlotBreaks": 2},
	{"HSPD", "pdf"}: probabilityDensityPlot,
	{"HSPD", "png"}: probabilityDensityPlot,

	{"HACC", "acc"}: {},
	{"AF", "an"}:    {},
	{"LF", "txt"}:   {},
}

// Presets is a lookup table of data-product options. The zero value is
// empty; use DefaultPresets for the stock table.
type Presets struct {
	table map[Key]map[string]any
}

// DefaultPresets returns a copy of the stock table.
func DefaultPresets() *Presets {
	p := &Presets{table: make(map[Key]map[string]any, len(builtin))}
	for k, v := range builtin {
		p.table[k] = copyParams(v)
	}
	return p
}

// Lookup returns a copy of the options for product/ext, and whether the
// combination is known.
func (p *Presets) Lookup(product, ext string) (map[string]any, bool) {
	v, ok := p.table[newKey(product, ext)]
	if !ok {
		return map[string]any{}, false
	}
	return copyParams(v), true
}

// Keys returns all known combinations sorted by product then extension.
func (p *Presets) Keys() []Key {
	keys := make([]Key, 0, len(p.table))
	for k := range p.table {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProductCode != keys[j].ProductCode {
			return keys[i].ProductCode < keys[j].ProductCode
		}
		return keys[i].Extension < keys[j].Extension
	})
	return keys
}

// Merge overlays options onto the table. Options for a known combination
// are merged key by key; unknown combinations are added.
func (p *Presets) Merge(product, ext string, params map[string]any) {
	k := newKey(product, ext)
	existing, ok := p.table[k]
	if !ok {
		existing = map[string]any{}
	} else {
		existing = copyParams(existing)
	}
	for name, v := range params {
		existing[name] = v
	}
	p.table[k] = existing
}

// overrideFile is the YAML layout of a preset override file:
//
//	HSD:
//	  png:
//	    dpo_spectrogramColourPalette: 3
//	HSPD:
//	  mat: {}
type overrideFile map[string]map[string]map[string]any

// LoadOverrides reads a YAML override file and merges it over the stock
// table, returning the combined presets.
func LoadOverrides(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	var overrides overrideFile
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse presets file %s: %w", path, err)
	}

	p := DefaultPresets()
	for product, byExt := range overrides {
		for ext, params := range byExt {
			if !IsSupportedExtension(ext) {
				return nil, fmt.Errorf("presets file %s: unsupported extension %q for %s", path, ext, product)
			}
			p.Merge(product, ext, params)
		}
	}
	return p, nil
}

func copyParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
