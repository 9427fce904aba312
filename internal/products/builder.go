package products

import (
	"fmt"
	"strings"

	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/models"
)

// Builder turns a matched deployment into a ProductRequest using a preset
// table.
type Builder struct {
	presets *Presets
	logger  *logging.Logger
}

// NewBuilder creates a builder. A nil presets uses DefaultPresets.
func NewBuilder(presets *Presets, logger *logging.Logger) *Builder {
	if presets == nil {
		presets = DefaultPresets()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Builder{presets: presets, logger: logger}
}

// Build creates the request for one deployment, product and extension.
// A combination without a preset is still built, with no extra options,
// and reported through the returned warnings.
func (b *Builder) Build(dep models.Deployment, product, ext string, window models.TimeWindow) (models.ProductRequest, []string) {
	product = strings.ToUpper(strings.TrimSpace(product))
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))

	var warnings []string
	params, ok := b.presets.Lookup(product, ext)
	if !ok {
		msg := fmt.Sprintf("no preset options for %s/%s, submitting without data product options", product, ext)
		warnings = append(warnings, msg)
		b.logger.Debug().Str("device", dep.DeviceCode).Str("product", product).Str("ext", ext).
			Msg("no preset options for product/extension")
	}
	if !IsSupportedExtension(ext) {
		warnings = append(warnings, fmt.Sprintf("extension %q is not a known hydrophone product type", ext))
	}

	return models.ProductRequest{
		DeviceCode:  strings.ToUpper(strings.TrimSpace(dep.DeviceCode)),
		ProductCode: product,
		Extension:   ext,
		Window:      models.TimeWindow{Start: window.Start.UTC(), End: window.End.UTC()},
		ExtraParams: params,
	}, warnings
}

// BuildAll builds one request per deployment for every extension and
// collects the warnings.
func (b *Builder) BuildAll(deps []models.Deployment, product string, exts []string, window models.TimeWindow) ([]models.ProductRequest, []string) {
	var reqs []models.ProductRequest
	var warnings []string
	for _, dep := range deps {
		for _, ext := range exts {
			req, w := b.Build(dep, product, ext, window)
			reqs = append(reqs, req)
			warnings = append(warnings, w...)
		}
	}
	return reqs, warnings
}
