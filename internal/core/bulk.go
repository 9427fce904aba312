package core

import (
	"context"
	"strings"

	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/models"
)

// bulkBuckets classifies the per-file results of a bulk download.
type bulkBuckets struct {
	complete     []models.FileResult
	skipped      []models.FileResult
	errored      []models.FileResult
	unclassified []models.FileResult
	bytes        int64
}

func bucketResults(results []models.FileResult) bulkBuckets {
	var b bulkBuckets
	for _, r := range results {
		status := strings.ToLower(strings.TrimSpace(r.Status))
		switch {
		case status == "complete" || r.Downloaded:
			b.complete = append(b.complete, r)
			b.bytes += r.Size
		case status == "skipped":
			b.skipped = append(b.skipped, r)
		case strings.Contains(status, "error"):
			b.errored = append(b.errored, r)
		default:
			b.unclassified = append(b.unclassified, r)
		}
	}
	return b
}

func (b bulkBuckets) details(expected int) models.OutcomeDetails {
	return models.OutcomeDetails{
		Expected:   expected,
		Downloaded: len(b.complete),
		Skipped:    len(b.skipped),
		Failed:     len(b.errored),
		Bytes:      b.bytes,
	}
}

// bulkDownload fetches every file of the run in one call. The second
// return is false when the result is inconclusive and fallback should run.
func (e *Engine) bulkDownload(ctx context.Context, job *models.Job, key, outDir string) (models.DownloadOutcome, bool) {
	ext := job.Request.Extension
	expected := job.ExpectedFileCount

	if err := e.sleep(ctx, e.rc.PreDownloadWait(ext)); err != nil {
		return models.FailedOutcome(ReasonCancelled, models.OutcomeDetails{Expected: expected}), true
	}
	e.publishState(key, events.StageBulk, "downloading", "", expected)

	results, err := e.svc.DownloadJobFiles(ctx, job.RunID, models.DownloadOptions{
		OutDir:          outDir,
		Overwrite:       e.rc.Overwrite(),
		MaxRetries:      e.rc.BulkRetries(ext),
		PollPeriod:      e.rc.FilePollPeriod(ext),
		Timeout:         e.rc.DownloadTimeout(ext),
		IncludeMetadata: e.rc.IncludeMetadata(),
	})
	if err != nil {
		e.logWarn().Str("job", key).Int64("run_id", job.RunID).Err(err).
			Str("error_type", http.ErrorTypeName(http.ClassifyError(err))).Msg("bulk download failed, falling back to per-file download")
		return models.DownloadOutcome{}, false
	}

	for i, r := range results {
		state := models.DownloadFailed
		switch {
		case r.Downloaded || strings.EqualFold(r.Status, "complete"):
			state = models.Downloaded
		case strings.EqualFold(r.Status, "skipped"):
			state = models.AlreadyExists
		}
		e.publishFile(key, models.DownloadResult{State: state, Filename: r.Filename, Size: r.Size}, i+1, len(results))
	}

	b := bucketResults(results)
	details := b.details(expected)

	switch {
	case len(b.errored) > 0:
		e.logWarn().Str("job", key).Int("errors", len(b.errored)).Msg("bulk download had errors, falling back to per-file download")
		return models.DownloadOutcome{}, false

	case len(b.complete) == 0 && len(b.skipped) > 0 && expected >= 0 && len(b.skipped) >= expected:
		e.logInfo().Str("job", key).Int("skipped", len(b.skipped)).Msg("all files already exist")
		return models.Succeeded(ReasonFilesExist, details), true

	case len(b.complete) > 0:
		e.logInfo().Str("job", key).Int("downloaded", len(b.complete)).Int("skipped", len(b.skipped)).
			Msg("bulk download complete")
		return models.Succeeded("", details), true

	case len(results) == 0 && expected == 0:
		return models.Succeeded(ReasonNoFilesGenerated, details), true
	}

	e.logWarn().Str("job", key).Int("results", len(results)).Int("expected", expected).
		Int("unclassified", len(b.unclassified)).Msg("bulk download inconclusive, falling back to per-file download")
	return models.DownloadOutcome{}, false
}
