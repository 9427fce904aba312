package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/models"
)

var (
	errJobPending = errors.New("job not complete")
	errFileFailed = errors.New("file download failed")
)

// fallbackDownload fetches a run's files one at a time after the bulk
// stage was inconclusive.
func (e *Engine) fallbackDownload(ctx context.Context, job *models.Job, key, outDir string) models.DownloadOutcome {
	ext := job.Request.Extension
	details := models.OutcomeDetails{Expected: job.ExpectedFileCount}

	st, err := e.svc.CheckJobStatus(ctx, job.RequestID)
	if err != nil {
		e.logWarn().Str("job", key).Err(err).Msg("status check before fallback failed")
		return models.FailedOutcome(ReasonFallbackSkipped, details)
	}
	if st.Status != models.StatusComplete {
		e.logWarn().Str("job", key).Str("status", st.RawStatus).Msg("skipping fallback: job is not complete")
		return models.FailedOutcome(ReasonFallbackSkipped, details)
	}

	if lead := e.rc.FallbackLeadIn(ext); lead > 0 {
		e.logInfo().Str("job", key).Dur("wait", lead).Msg("waiting before per-file download")
		if err := e.sleep(ctx, lead); err != nil {
			return models.FailedOutcome(ReasonCancelled, details)
		}
	}
	e.publishState(key, events.StageFallback, "downloading", "", job.ExpectedFileCount)

	count := job.ExpectedFileCount
	if count < 0 {
		count, err = e.resolveFileCount(ctx, job, key)
		if err != nil {
			e.logError().Str("job", key).Err(err).Msg("could not determine file count")
			return models.FailedOutcome(ReasonFallbackFailed, details)
		}
	}
	details.Expected = count
	if count == 0 {
		return models.Succeeded(ReasonNoFilesGenerated, details)
	}

	descs := e.describeFiles(ctx, job, key, count)
	if len(descs) == 0 {
		e.logError().Str("job", key).Int("expected", count).Msg("no valid file descriptors")
		return models.FailedOutcome(ReasonNoValidFiles, details)
	}

	opts := models.DownloadOptions{
		OutDir:     outDir,
		Overwrite:  e.rc.Overwrite(),
		MaxRetries: e.rc.FileRetries(ext),
		PollPeriod: e.rc.FilePollPeriod(ext),
		Timeout:    e.rc.DownloadTimeout(ext),
	}
	for i, desc := range descs {
		if err := e.sleep(ctx, e.rc.InterFileDelay(ext)); err != nil {
			details.Failed += len(descs) - i
			break
		}

		res := e.downloadWithExtraRetry(ctx, desc, opts, ext, key)
		switch res.State {
		case models.Downloaded:
			details.Downloaded++
			details.Bytes += res.Size
		case models.AlreadyExists:
			details.Skipped++
		default:
			details.Failed++
			e.logError().Str("job", key).Str("file", desc.DisplayName(ext)).Int("status", res.StatusCode).
				Str("reason", res.Reason).Msg("file download failed")
		}
		e.publishFile(key, res, i+1, len(descs))
	}

	switch {
	case details.Failed == 0:
		return models.Succeeded("", details)
	case details.Downloaded+details.Skipped > 0:
		return models.Succeeded(ReasonPartial, details)
	default:
		return models.FailedOutcome(ReasonFallbackFailed, details)
	}
}

// downloadWithExtraRetry downloads one file, giving slow products a single
// extra attempt after a failure.
func (e *Engine) downloadWithExtraRetry(ctx context.Context, desc models.FileDescriptor, opts models.DownloadOptions, ext, key string) models.DownloadResult {
	wait, extra := e.rc.ExtraRetryWait(ext)
	attempts := 1
	if extra {
		attempts = 2
	}

	var res models.DownloadResult
	policy := http.Policy{
		MaxAttempts: attempts,
		Schedule:    http.Constant(wait),
		ShouldRetry: func(err error) bool { return errors.Is(err, errFileFailed) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			e.logWarn().Str("job", key).Str("file", desc.DisplayName(ext)).Str("reason", res.Reason).
				Dur("wait", wait).Msg("file failed, retrying once")
		},
		Sleep: e.sleep,
	}
	_, _ = http.DoValue(ctx, policy, func(ctx context.Context) (struct{}, error) {
		res = e.svc.DownloadFile(ctx, desc, opts)
		if res.State == models.DownloadFailed {
			return struct{}{}, errFileFailed
		}
		return struct{}{}, nil
	})
	return res
}

// resolveFileCount polls the job status until it is complete and then
// counts the run's files.
func (e *Engine) resolveFileCount(ctx context.Context, job *models.Job, key string) (int, error) {
	ext := job.Request.Extension
	if err := e.sleep(ctx, e.rc.FallbackInitialWait(ext)); err != nil {
		return 0, err
	}

	policy := http.Policy{
		MaxAttempts: e.rc.FallbackRetries(),
		Schedule:    func(attempt int) time.Duration { return e.rc.FallbackPollWait(ext, attempt-1) },
		ShouldRetry: func(err error) bool { return errors.Is(err, errJobPending) || http.IsTransient(err) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			e.logDebug().Str("job", key).Int("attempt", attempt).Dur("wait", wait).Err(err).
				Msg("waiting for job to complete")
		},
		Sleep: e.sleep,
	}
	_, err := http.DoValue(ctx, policy, func(ctx context.Context) (models.StatusResult, error) {
		st, err := e.svc.CheckJobStatus(ctx, job.RequestID)
		if err != nil {
			return st, err
		}
		switch st.Status {
		case models.StatusComplete:
			return st, nil
		case models.StatusFailed, models.StatusCancelled:
			return st, fmt.Errorf("job ended with status %s", st.RawStatus)
		}
		return st, fmt.Errorf("%w: status %s", errJobPending, st.RawStatus)
	})
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}

	n, err := e.svc.CountFilesForRun(ctx, job.RunID)
	if err != nil {
		return 0, err
	}
	e.logDebug().Str("job", key).Int("files", n).Msg("counted run files")
	return n, nil
}

// describeFiles probes indices 1..count and keeps the valid descriptors.
func (e *Engine) describeFiles(ctx context.Context, job *models.Job, key string, count int) []models.FileDescriptor {
	var descs []models.FileDescriptor
	for i := 1; i <= count; i++ {
		desc, err := e.svc.GetFileDescriptor(ctx, job.RunID, i)
		if err != nil {
			e.logDebug().Str("job", key).Int("index", i).Err(err).Msg("no descriptor for index")
			continue
		}
		if desc.Valid() {
			descs = append(descs, desc)
		}
	}
	if len(descs) != count {
		e.logWarn().Str("job", key).Int("expected", count).Int("valid", len(descs)).Msg("file count mismatch")
	}
	return descs
}
