// Package core runs data-product jobs and archive downloads against the
// ONC service and reduces each one to a DownloadOutcome.
package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oceanhydro/hydrodl/internal/api"
	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/constants"
	"github.com/oceanhydro/hydrodl/internal/diskspace"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/logging"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/report"
	"github.com/oceanhydro/hydrodl/internal/util/filter"
)

// Service is the remote client the engine drives. *api.Client implements it.
type Service interface {
	SubmitJob(ctx context.Context, req models.ProductRequest) (models.SubmitResult, error)
	RunJob(ctx context.Context, requestID int64) (models.RunResult, error)
	CheckJobStatus(ctx context.Context, requestID int64) (models.StatusResult, error)
	DownloadJobFiles(ctx context.Context, runID int64, opts models.DownloadOptions) ([]models.FileResult, error)
	CountFilesForRun(ctx context.Context, runID int64) (int, error)
	GetFileDescriptor(ctx context.Context, runID int64, index int) (models.FileDescriptor, error)
	DownloadFile(ctx context.Context, desc models.FileDescriptor, opts models.DownloadOptions) models.DownloadResult
	ListArchiveFiles(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchiveFileEntry, error)
	DownloadArchiveFile(ctx context.Context, filename string, opts models.DownloadOptions) models.DownloadResult
}

var _ Service = (*api.Client)(nil)

// Outcome reasons.
const (
	ReasonPermission        = "Permission"
	ReasonRestricted        = "Restricted"
	ReasonSubmitError       = "Submit Error"
	ReasonRunError          = "Run Error"
	ReasonMissingRunID      = "Missing runId"
	ReasonStatusCheckError  = "Status Check Error"
	ReasonNoFilesGenerated  = "No Files Generated"
	ReasonFilesExist        = "Files Already Exist"
	ReasonFallbackSkipped   = "Fallback Skipped"
	ReasonFallbackFailed    = "Fallback Failed"
	ReasonNoValidFiles      = "No Valid File Descriptors"
	ReasonPartial           = "Partial"
	ReasonListingError      = "Listing Error"
	ReasonNoFilesFound      = "No Files Found"
	ReasonAllFilesExist     = "All Files Already Exist"
	ReasonInsufficientSpace = "Insufficient Disk Space"
	ReasonDownloadErrors    = "Download Error(s)"
	ReasonCancelled         = "Cancelled"
)

// RunInfo identifies one engine instance in logs and events.
type RunInfo struct {
	RunID     string
	StartTime time.Time
}

// Engine drives jobs through submission, run, bulk download and fallback.
// Jobs are handled one at a time; nothing is shared between jobs except
// the output directory.
type Engine struct {
	svc    Service
	rc     *config.RunContext
	logger *logging.Logger
	events *events.EventBus
	run    RunInfo

	archiveFilter filter.Config
	sleep         func(ctx context.Context, d time.Duration) error
	checkSpace    func(dir string, required int64) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEventBus publishes job and file events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.events = bus }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(e *Engine) { e.run.RunID = id }
}

// WithArchiveFilter applies include/exclude globs to archive listings.
func WithArchiveFilter(f filter.Config) Option {
	return func(e *Engine) { e.archiveFilter = f }
}

// WithSleep replaces the context-aware wait used between steps.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithDiskSpaceCheck replaces the free-space check run before archive downloads.
func WithDiskSpaceCheck(check func(dir string, required int64) error) Option {
	return func(e *Engine) { e.checkSpace = check }
}

// NewEngine creates an engine. A nil rc uses the default timings.
func NewEngine(svc Service, rc *config.RunContext, logger *logging.Logger, opts ...Option) *Engine {
	if rc == nil {
		rc = config.DefaultRunContext()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		svc:    svc,
		rc:     rc,
		logger: logger,
		run:    RunInfo{RunID: uuid.NewString(), StartTime: time.Now()},
		sleep:  http.Sleep,
		checkSpace: func(dir string, required int64) error {
			return diskspace.CheckAvailableSpace(dir, required, constants.DiskSpaceBufferPercent)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run returns the run id and start time.
func (e *Engine) Run() RunInfo { return e.run }

func (e *Engine) logInfo() *zerolog.Event  { return e.logger.Info().Str("run_id", e.run.RunID) }
func (e *Engine) logWarn() *zerolog.Event  { return e.logger.Warn().Str("run_id", e.run.RunID) }
func (e *Engine) logDebug() *zerolog.Event { return e.logger.Debug().Str("run_id", e.run.RunID) }
func (e *Engine) logError() *zerolog.Event { return e.logger.Error().Str("run_id", e.run.RunID) }

func (e *Engine) publishState(key, stage, status, message string, expected int) {
	e.events.PublishJobState(e.run.RunID, key, stage, status, message, expected)
}

func (e *Engine) publishFile(key string, res models.DownloadResult, done, total int) {
	e.events.PublishFile(e.run.RunID, key, res.Filename, res.State.String(), res.Size, done, total)
}

func (e *Engine) publishComplete(outcomes map[string]models.DownloadOutcome, took time.Duration) {
	ev := &events.RunCompleteEvent{
		BaseEvent: events.BaseEvent{EventType: events.EventRunComplete, Time: time.Now(), RunID: e.run.RunID},
		TotalJobs: len(outcomes),
		Duration:  took,
	}
	for _, o := range outcomes {
		switch o.Status {
		case models.OutcomeSuccess:
			ev.SuccessJobs++
		case models.OutcomeSkipped:
			ev.SkippedJobs++
		default:
			ev.FailedJobs++
		}
	}
	e.events.Publish(ev)
}

// PrepareJobs submits each request. Submissions that fail with HTTP 500
// are retried with exponential backoff. Requests that did not produce a
// job are returned as outcomes keyed by report.SubmitKey.
func (e *Engine) PrepareJobs(ctx context.Context, reqs []models.ProductRequest) ([]*models.Job, map[string]models.DownloadOutcome) {
	var jobs []*models.Job
	outcomes := make(map[string]models.DownloadOutcome)

	for _, req := range reqs {
		key := report.SubmitKey(req.DeviceCode, req.ProductCode, req.Extension)
		e.publishState(key, events.StageSubmit, "submitting", "", -1)

		res, err := http.DoValue(ctx, e.submitPolicy(key), func(ctx context.Context) (models.SubmitResult, error) {
			return e.svc.SubmitJob(ctx, req)
		})

		switch {
		case err != nil && api.IsPermissionError(err):
			e.logWarn().Str("job", key).Err(err).Msg("skipping request: permission not granted")
			outcomes[key] = models.SkippedOutcome(ReasonPermission, models.OutcomeDetails{Expected: -1})
			e.publishState(key, events.StageDone, models.OutcomeSkipped.String(), ReasonPermission, -1)

		case err != nil:
			e.logError().Str("job", key).Str("error_type", http.ErrorTypeName(http.ClassifyError(err))).Err(err).Msg("submission failed")
			outcomes[key] = models.FailedOutcome(ReasonSubmitError, models.OutcomeDetails{Expected: -1})
			e.publishState(key, events.StageDone, models.OutcomeFailed.String(), ReasonSubmitError, -1)

		case mentionsRestricted(res.Warnings):
			e.logWarn().Str("job", key).Strs("warnings", res.Warnings).Msg("skipping request: data is restricted")
			outcomes[key] = models.SkippedOutcome(ReasonRestricted, models.OutcomeDetails{Expected: -1})
			e.publishState(key, events.StageDone, models.OutcomeSkipped.String(), ReasonRestricted, -1)

		default:
			job := models.NewJob(req, res.RequestID)
			job.EstimatedBytes = res.EstimatedBytes
			job.Warnings = res.Warnings
			jobs = append(jobs, job)

			ev := e.logInfo().Str("job", report.JobKey(job.RequestID, req.DeviceCode, req.Extension)).
				Int64("request_id", job.RequestID)
			if job.EstimatedBytes > 0 {
				ev = ev.Int64("estimated_bytes", job.EstimatedBytes)
			}
			ev.Msg("request prepared")
			for _, w := range res.Warnings {
				e.logWarn().Int64("request_id", job.RequestID).Msg(w)
			}
		}
	}
	return jobs, outcomes
}

func (e *Engine) submitPolicy(key string) http.Policy {
	return http.Policy{
		MaxAttempts: e.rc.SubmitAttempts(),
		Schedule:    http.Exponential(e.rc.SubmitBackoff(), 0),
		ShouldRetry: isInternalServerError,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			e.logWarn().Str("job", key).Int("attempt", attempt).Dur("wait", wait).Err(err).
				Msg("submission failed with a server error, retrying")
		},
		Sleep: e.sleep,
	}
}

func isInternalServerError(err error) bool {
	var apiErr *api.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 500
}

func mentionsRestricted(warnings []string) bool {
	for _, w := range warnings {
		if strings.Contains(strings.ToLower(w), "restricted") {
			return true
		}
	}
	return false
}

// ProcessJobs runs and downloads each job in order. The returned flag is
// false iff any job Failed.
func (e *Engine) ProcessJobs(ctx context.Context, jobs []*models.Job, outDir string) (bool, map[string]models.DownloadOutcome) {
	start := time.Now()
	outcomes := make(map[string]models.DownloadOutcome, len(jobs))
	allOK := true

	for i, job := range jobs {
		key := report.JobKey(job.RequestID, job.Request.DeviceCode, job.Request.Extension)

		var outcome models.DownloadOutcome
		if ctx.Err() != nil {
			outcome = models.FailedOutcome(ReasonCancelled, models.OutcomeDetails{Expected: job.ExpectedFileCount})
		} else {
			e.logInfo().Str("job", key).Int("n", i+1).Int("of", len(jobs)).Msg("processing job")
			outcome = e.processJob(ctx, job, key, outDir)
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

func (e *Engine) logOutcome(key string, o models.DownloadOutcome) {
	var ev *zerolog.Event
	switch o.Status {
	case models.OutcomeFailed:
		ev = e.logError()
	case models.OutcomeSkipped:
		ev = e.logWarn()
	default:
		ev = e.logInfo()
	}
	ev.Str("job", key).Str("status", o.Status.String()).Str("reason", o.Reason).
		Int("downloaded", o.Details.Downloaded).Int("skipped", o.Details.Skipped).Int("failed", o.Details.Failed).
		Msg("job finished")
}

// processJob resolves one job. Every failure is converted into an outcome.
func (e *Engine) processJob(ctx context.Context, job *models.Job, key, outDir string) models.DownloadOutcome {
	e.publishState(key, events.StageRun, "running", "", job.ExpectedFileCount)

	run, err := e.svc.RunJob(ctx, job.RequestID)
	if err != nil {
		if api.IsPermissionError(err) {
			e.logWarn().Str("job", key).Err(err).Msg("run refused: permission not granted")
			return models.SkippedOutcome(ReasonPermission, models.OutcomeDetails{Expected: -1})
		}
		e.logError().Str("job", key).Str("error_type", http.ErrorTypeName(http.ClassifyError(err))).Err(err).Msg("run failed")
		return models.FailedOutcome(ReasonRunError, models.OutcomeDetails{Expected: -1})
	}
	if run.RunID <= 0 {
		e.logError().Str("job", key).Msg("service did not return a run id")
		return models.FailedOutcome(ReasonMissingRunID, models.OutcomeDetails{Expected: -1})
	}
	job.RunID = run.RunID
	job.ExpectedFileCount = run.FileCount

	st, err := e.svc.CheckJobStatus(ctx, job.RequestID)
	if err != nil {
		e.logError().Str("job", key).Str("error_type", http.ErrorTypeName(http.ClassifyError(err))).Err(err).Msg("status check failed")
		return models.FailedOutcome(ReasonStatusCheckError, models.OutcomeDetails{Expected: job.ExpectedFileCount})
	}
	job.Status, job.RawStatus = st.Status, st.RawStatus

	if st.Status != models.StatusComplete {
		reason := st.RawStatus
		if reason == "" {
			reason = st.Status.String()
		}
		for _, msg := range st.Errors {
			e.logError().Str("job", key).Msg(msg)
		}
		return models.FailedOutcome(reason, models.OutcomeDetails{Expected: job.ExpectedFileCount})
	}

	if job.ExpectedFileCount == 0 {
		e.logInfo().Str("job", key).Msg("service reported 0 files generated")
		return models.Succeeded(ReasonNoFilesGenerated, models.OutcomeDetails{})
	}

	if outcome, done := e.bulkDownload(ctx, job, key, outDir); done {
		return outcome
	}
	return e.fallbackDownload(ctx, job, key, outDir)
}
