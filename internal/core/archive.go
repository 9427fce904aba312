package core

import (
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/oceanhydro/hydrodl/internal/diskspace"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/report"
	"github.com/oceanhydro/hydrodl/internal/util/filter"
	"github.com/oceanhydro/hydrodl/internal/validation"
)

// ExtensionSummary is the count and size of archive files of one type.
type ExtensionSummary struct {
	Extension  string
	Count      int
	TotalBytes int64
}

// GroupByExtension summarizes files per extension, sorted by extension.
func GroupByExtension(files []models.ArchiveFileEntry) []ExtensionSummary {
	byExt := make(map[string]*ExtensionSummary)
	for _, f := range files {
		ext := f.Extension
		if ext == "" {
			ext = models.ExtensionOf(f.Filename)
		}
		if ext == "" {
			ext = "unknown"
		}
		s, ok := byExt[ext]
		if !ok {
			s = &ExtensionSummary{Extension: ext}
			byExt[ext] = s
		}
		s.Count++
		s.TotalBytes += f.SizeBytes
	}

	out := make([]ExtensionSummary, 0, len(byExt))
	for _, s := range byExt {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Extension < out[j].Extension })
	return out
}

// ListArchive lists archived files for a device over w, without reduced
// PNG renditions and filtered by the engine's include/exclude globs.
// An empty ext lists every type.
func (e *Engine) ListArchive(ctx context.Context, device string, w models.TimeWindow, ext string) ([]models.ArchiveFileEntry, error) {
	files, err := e.svc.ListArchiveFiles(ctx, models.ArchiveFilter{
		DeviceCode: device,
		Window:     w,
		Extension:  strings.ToLower(ext),
	})
	if err != nil {
		return nil, err
	}
	files = filter.ExcludeReducedRenditions(files)
	return filter.ApplyToArchiveFiles(files, e.archiveFilter), nil
}

// ProcessArchive downloads the archived files of each wanted extension
// that are not already in outDir. Existing files are never overwritten.
// The returned flag is false iff any extension Failed.
func (e *Engine) ProcessArchive(ctx context.Context, device string, w models.TimeWindow, wanted []string, outDir string) (bool, map[string]models.DownloadOutcome) {
	start := time.Now()
	outcomes := make(map[string]models.DownloadOutcome, len(wanted))
	allOK := true

	for _, ext := range wanted {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		key := report.ArchiveKey(device, ext)

		var outcome models.DownloadOutcome
		if ctx.Err() != nil {
			outcome = models.FailedOutcome(ReasonCancelled, models.OutcomeDetails{Expected: -1})
		} else {
			outcome = e.processArchiveExtension(ctx, device, w, ext, key, outDir)
		}

		outcomes[key] = outcome
		if outcome.Status == models.OutcomeFailed {
			allOK = false
		}
		e.publishState(key, events.StageDone, outcome.Status.String(), outcome.Reason, outcome.Details.Expected)
		e.logOutcome(key, outcome)
	}

	e.publishComplete(outcomes, time.Since(start))
	return allOK, outcomes
}

func (e *Engine) processArchiveExtension(ctx context.Context, device string, w models.TimeWindow, ext, key, outDir string) models.DownloadOutcome {
	e.publishState(key, events.StageArchive, "listing", "", -1)

	files, err := e.ListArchive(ctx, device, w, ext)
	if err != nil {
		e.logError().Str("job", key).Err(err).Msg("archive listing failed")
		return models.FailedOutcome(ReasonListingError, models.OutcomeDetails{Expected: -1})
	}
	details := models.OutcomeDetails{Expected: len(files)}
	if len(files) == 0 {
		e.logInfo().Str("job", key).Msg("no archive files found")
		return models.Succeeded(ReasonNoFilesFound, details)
	}

	var missing []models.ArchiveFileEntry
	var need int64
	for _, f := range files {
		if exists(outDir, f.Filename) {
			details.Skipped++
			continue
		}
		missing = append(missing, f)
		need += f.SizeBytes
	}
	e.logInfo().Str("job", key).Int("found", len(files)).Int("missing", len(missing)).Int("existing", details.Skipped).
		Msg("archive files listed")

	if len(missing) > 0 {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			e.logError().Str("job", key).Err(err).Msg("cannot create output directory")
			details.Failed = len(missing)
			return models.FailedOutcome(ReasonDownloadErrors, details)
		}
		if err := e.checkSpace(outDir, need); err != nil {
			if diskspace.IsInsufficientSpaceError(err) {
				e.logError().Str("job", key).Err(err).Msg("not enough disk space for archive download")
				return models.FailedOutcome(ReasonInsufficientSpace, details)
			}
			e.logWarn().Str("job", key).Err(err).Msg("disk space check failed, continuing")
		}
	}

	e.publishState(key, events.StageArchive, "downloading", "", len(files))
	opts := models.DownloadOptions{OutDir: outDir, Overwrite: false, Timeout: e.rc.DownloadTimeout(ext)}
	for i, f := range missing {
		if ctx.Err() != nil {
			details.Failed += len(missing) - i
			break
		}
		res := e.svc.DownloadArchiveFile(ctx, f.Filename, opts)
		switch res.State {
		case models.Downloaded:
			details.Downloaded++
			details.Bytes += res.Size
		case models.AlreadyExists:
			details.Skipped++
		default:
			details.Failed++
			e.logError().Str("job", key).Str("file", f.Filename).Str("reason", res.Reason).Msg("archive download failed")
		}
		e.publishFile(key, res, i+1, len(missing))
	}

	switch {
	case details.Skipped == len(files):
		return models.Succeeded(ReasonAllFilesExist, details)
	case details.Failed == 0:
		return models.Succeeded("", details)
	case details.Downloaded > 0:
		return models.Succeeded(ReasonPartial, details)
	default:
		return models.FailedOutcome(ReasonDownloadErrors, details)
	}
}

func exists(dir, filename string) bool {
	path, err := validation.SafeJoin(dir, filename)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
