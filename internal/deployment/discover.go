package deployment

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oceanhydro/hydrodl/internal/api"
	"github.com/oceanhydro/hydrodl/internal/constants"
	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/util/filter"
)

// Catalog is the subset of the ONC client used for discovery.
type Catalog interface {
	ListDevices(ctx context.Context, category string) ([]models.Device, error)
	ListDeployments(ctx context.Context, deviceCode string) ([]models.RawDeployment, error)
	ListDataProducts(ctx context.Context, deviceCode string) ([]models.DataProduct, error)
}

// ArchiveLister lists archived files for a device.
type ArchiveLister interface {
	ListArchiveFiles(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchiveFileEntry, error)
}

// Discoverer finds hydrophone deployments overlapping a window.
type Discoverer struct {
	catalog Catalog
	logger  *logging.Logger
	workers int
	now     func() time.Time
}

// Option customizes a Discoverer.
type Option func(*Discoverer)

// WithWorkers sets the worker count for parallel discovery.
func WithWorkers(n int) Option {
	return func(d *Discoverer) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithClock overrides the clock used for ongoing deployments.
func WithClock(now func() time.Time) Option {
	return func(d *Discoverer) { d.now = now }
}

// NewDiscoverer creates a discoverer over catalog.
func NewDiscoverer(catalog Catalog, logger *logging.Logger, opts ...Option) *Discoverer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	d := &Discoverer{
		catalog: catalog,
		logger:  logger,
		workers: constants.DiscoveryWorkers,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FindOverlapping lists every hydrophone, fetches its deployments and
// returns those overlapping w. With parallel set, deployments are fetched
// by a bounded pool of workers. A device whose deployments cannot be read
// is logged and skipped.
func (d *Discoverer) FindOverlapping(ctx context.Context, w models.TimeWindow, parallel bool) (MatchResult, error) {
	devices, err := d.catalog.ListDevices(ctx, constants.HydrophoneCategory)
	if err != nil {
		return MatchResult{}, fmt.Errorf("failed to list hydrophones: %w", err)
	}
	d.logger.Debug().Int("devices", len(devices)).Bool("parallel", parallel).Msg("fetching deployments")

	perDevice := make([][]models.RawDeployment, len(devices))
	fetch := func(ctx context.Context, i int) {
		dev := devices[i]
		if dev.DeviceCode == "" {
			return
		}
		raw, err := d.catalog.ListDeployments(ctx, dev.DeviceCode)
		if err != nil {
			d.logger.Warn().Str("device", dev.DeviceCode).Err(err).Msg("skipping device: failed to list deployments")
			return
		}
		for j := range raw {
			if raw[j].DeviceCode == "" {
				raw[j].DeviceCode = dev.DeviceCode
			}
		}
		perDevice[i] = raw
	}

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.workers)
		for i := range devices {
			i := i
			g.Go(func() error {
				fetch(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range devices {
			if ctx.Err() != nil {
				break
			}
			fetch(ctx, i)
		}
	}
	if err := ctx.Err(); err != nil {
		return MatchResult{}, err
	}

	var all []models.RawDeployment
	for _, raw := range perDevice {
		all = append(all, raw...)
	}

	res, err := Match(all, w, d.now())
	for _, note := range res.Notes {
		d.logger.Warn().Msg(note)
	}
	if res.Dropped > 0 {
		d.logger.Warn().Int("dropped", res.Dropped).Msg("discarded deployments without a valid begin time")
	}
	return res, err
}

// ForDevice returns the deployments of one device overlapping w.
func (d *Discoverer) ForDevice(ctx context.Context, deviceCode string, w models.TimeWindow) (MatchResult, error) {
	raw, err := d.catalog.ListDeployments(ctx, deviceCode)
	if err != nil {
		return MatchResult{}, fmt.Errorf("failed to list deployments for %s: %w", deviceCode, err)
	}
	for j := range raw {
		if raw[j].DeviceCode == "" {
			raw[j].DeviceCode = deviceCode
		}
	}
	res, err := Match(raw, w, d.now())
	for _, note := range res.Notes {
		d.logger.Warn().Str("device", deviceCode).Msg(note)
	}
	return res, err
}

// ArchiveAvailability reports what the archive holds for one deployment.
type ArchiveAvailability struct {
	Deployment models.Deployment
	FileCount  int
	TotalBytes int64
	Err        error
}

// HasFiles reports whether the listing succeeded and returned files.
func (a ArchiveAvailability) HasFiles() bool {
	return a.Err == nil && a.FileCount > 0
}

// CheckArchiveAvailability lists the archive for each deployment over w,
// ignoring reduced PNG renditions. Listing errors are recorded per
// deployment rather than returned.
func (d *Discoverer) CheckArchiveAvailability(ctx context.Context, lister ArchiveLister, deps []models.Deployment, w models.TimeWindow, ext string) []ArchiveAvailability {
	out := make([]ArchiveAvailability, len(deps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, dep := range deps {
		out[i].Deployment = dep
		i, dep := i, dep
		g.Go(func() error {
			files, err := lister.ListArchiveFiles(gctx, models.ArchiveFilter{
				DeviceCode: dep.DeviceCode,
				Window:     w,
				Extension:  ext,
			})
			if err != nil {
				if !api.IsNotFound(err) {
					d.logger.Debug().Str("device", dep.DeviceCode).Err(err).Msg("archive check failed")
					out[i].Err = err
				}
				return nil
			}
			files = filter.ExcludeReducedRenditions(files)
			out[i].FileCount = len(files)
			for _, f := range files {
				out[i].TotalBytes += f.SizeBytes
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ListProducts returns the data-product catalog of a device.
func (d *Discoverer) ListProducts(ctx context.Context, deviceCode string) ([]models.DataProduct, error) {
	products, err := d.catalog.ListDataProducts(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list data products for %s: %w", deviceCode, err)
	}
	return products, nil
}
