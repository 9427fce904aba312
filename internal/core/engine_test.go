package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanhydro/hydrodl/internal/api"
	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/diskspace"
	"github.com/oceanhydro/hydrodl/internal/events"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/util/filter"
)

// fakeService scripts the remote side of a job.
type fakeService struct {
	mu sync.Mutex

	submit      func(req models.ProductRequest) (models.SubmitResult, error)
	submitCalls int

	run    models.RunResult
	runErr error

	// statuses are returned in order; the last one repeats.
	statuses    []models.StatusResult
	statusErr   error
	statusErrAt map[int]error
	statusCalls int

	bulk      []models.FileResult
	bulkErr   error
	bulkCalls int
	bulkOpts  models.DownloadOptions

	count      int
	countErr   error
	countCalls int

	invalidIndex map[int]bool
	fileResult   func(desc models.FileDescriptor, attempt int) models.DownloadResult
	fileCalls    map[int]int

	archive         []models.ArchiveFileEntry
	archiveErr      error
	archiveFilter   models.ArchiveFilter
	archiveDownload func(name string, opts models.DownloadOptions) models.DownloadResult
	archiveCalls    []string
}

func complete() models.StatusResult {
	return models.StatusResult{Status: models.StatusComplete, RawStatus: "COMPLETE"}
}

func status(raw string) models.StatusResult {
	return models.StatusResult{Status: models.ParseJobStatus(raw), RawStatus: raw}
}

func (f *fakeService) SubmitJob(ctx context.Context, req models.ProductRequest) (models.SubmitResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submit == nil {
		return models.SubmitResult{RequestID: 1}, nil
	}
	return f.submit(req)
}

func (f *fakeService) RunJob(ctx context.Context, requestID int64) (models.RunResult, error) {
	return f.run, f.runErr
}

func (f *fakeService) CheckJobStatus(ctx context.Context, requestID int64) (models.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return models.StatusResult{}, f.statusErr
	}
	if err := f.statusErrAt[f.statusCalls]; err != nil {
		return models.StatusResult{}, err
	}
	if len(f.statuses) == 0 {
		return complete(), nil
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeService) DownloadJobFiles(ctx context.Context, runID int64, opts models.DownloadOptions) ([]models.FileResult, error) {
	f.bulkCalls++
	f.bulkOpts = opts
	return f.bulk, f.bulkErr
}

func (f *fakeService) CountFilesForRun(ctx context.Context, runID int64) (int, error) {
	f.countCalls++
	return f.count, f.countErr
}

func (f *fakeService) GetFileDescriptor(ctx context.Context, runID int64, index int) (models.FileDescriptor, error) {
	if f.invalidIndex[index] {
		return models.FileDescriptor{}, &api.APIError{StatusCode: 404}
	}
	return models.FileDescriptor{RunID: runID, Index: index, Status: "complete"}, nil
}

func (f *fakeService) DownloadFile(ctx context.Context, desc models.FileDescriptor, opts models.DownloadOptions) models.DownloadResult {
	if f.fileCalls == nil {
		f.fileCalls = map[int]int{}
	}
	f.fileCalls[desc.Index]++
	if f.fileResult == nil {
		return models.DownloadedResult("f", 10, 200)
	}
	return f.fileResult(desc, f.fileCalls[desc.Index])
}

func (f *fakeService) totalFileCalls() int {
	n := 0
	for _, c := range f.fileCalls {
		n += c
	}
	return n
}

func (f *fakeService) ListArchiveFiles(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchiveFileEntry, error) {
	f.archiveFilter = filter
	return f.archive, f.archiveErr
}

func (f *fakeService) DownloadArchiveFile(ctx context.Context, filename string, opts models.DownloadOptions) models.DownloadResult {
	f.archiveCalls = append(f.archiveCalls, filename)
	if f.archiveDownload != nil {
		return f.archiveDownload(filename, opts)
	}
	if err := os.WriteFile(filepath.Join(opts.OutDir, filename), []byte("data"), 0644); err != nil {
		return models.FailedResult(filename, 0, err.Error())
	}
	return models.DownloadedResult(filename, 4, 200)
}

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestEngine(svc Service, opts ...Option) *Engine {
	rc := config.DefaultRunContext(config.WithNoDelays())
	return NewEngine(svc, rc, nil, append([]Option{WithRunID("test-run")}, opts...)...)
}

func testRequest(t *testing.T, ext string) models.ProductRequest {
	t.Helper()
	w, err := models.ParseTimeWindow("2023-06-01T00:00:00Z", "2023-06-01T01:00:00Z")
	require.NoError(t, err)
	return models.ProductRequest{DeviceCode: "ICLISTENHF1234", ProductCode: "HSD", Extension: ext, Window: w}
}

func testJob(t *testing.T, ext string) *models.Job {
	return models.NewJob(testRequest(t, ext), 42)
}

func processOne(t *testing.T, e *Engine, job *models.Job) (bool, models.DownloadOutcome) {
	t.Helper()
	ok, outcomes := e.ProcessJobs(context.Background(), []*models.Job{job}, t.TempDir())
	require.Len(t, outcomes, 1)
	for _, o := range outcomes {
		return ok, o
	}
	return ok, models.DownloadOutcome{}
}

// --- submission ---

func TestPrepareJobsSuccess(t *testing.T) {
	svc := &fakeService{submit: func(req models.ProductRequest) (models.SubmitResult, error) {
		return models.SubmitResult{RequestID: 77, EstimatedBytes: 5 << 20, Warnings: []string{"large request"}}, nil
	}}

	jobs, outcomes := newTestEngine(svc).PrepareJobs(context.Background(), []models.ProductRequest{testRequest(t, "png")})
	require.Len(t, jobs, 1)
	assert.Empty(t, outcomes)
	assert.Equal(t, int64(77), jobs[0].RequestID)
	assert.Equal(t, int64(5<<20), jobs[0].EstimatedBytes)
	assert.Equal(t, -1, jobs[0].ExpectedFileCount)
	assert.Equal(t, models.StatusSubmitted, jobs[0].Status)
}

func TestPrepareJobsRetriesServerErrors(t *testing.T) {
	attempts := 0
	svc := &fakeService{submit: func(req models.ProductRequest) (models.SubmitResult, error) {
		attempts++
		if attempts < 3 {
			return models.SubmitResult{}, &api.APIError{StatusCode: 500}
		}
		return models.SubmitResult{RequestID: 9}, nil
	}}
	rec := &sleepRecorder{}
	e := NewEngine(svc, config.DefaultRunContext(), nil, WithSleep(rec.sleep))

	jobs, outcomes := e.PrepareJobs(context.Background(), []models.ProductRequest{testRequest(t, "png")})
	require.Len(t, jobs, 1)
	assert.Empty(t, outcomes)
	assert.Equal(t, 3, svc.submitCalls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
}

func TestPrepareJobsSubmitFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		warnings   []string
		wantStatus models.OutcomeStatus
		wantReason string
		wantCalls  int
	}{
		{
			name:       "server error exhausts retries",
			err:        &api.APIError{StatusCode: 500},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonSubmitError,
			wantCalls:  3,
		},
		{
			name:       "bad request is not retried",
			err:        &api.APIError{StatusCode: 400, Errors: []api.ErrorDetail{{ErrorCode: 127, ErrorMessage: "bad parameter"}}},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonSubmitError,
			wantCalls:  1,
		},
		{
			name:       "permission error",
			err:        &api.APIError{StatusCode: 400, Errors: []api.ErrorDetail{{ErrorCode: 71, ErrorMessage: "Permissions not granted"}}},
			wantStatus: models.OutcomeSkipped,
			wantReason: ReasonPermission,
			wantCalls:  1,
		},
		{
			name:       "restricted data",
			warnings:   []string{"Data from this device is RESTRICTED"},
			wantStatus: models.OutcomeSkipped,
			wantReason: ReasonRestricted,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{submit: func(req models.ProductRequest) (models.SubmitResult, error) {
				if tt.err != nil {
					return models.SubmitResult{}, tt.err
				}
				return models.SubmitResult{RequestID: 5, Warnings: tt.warnings}, nil
			}}

			req := testRequest(t, "png")
			jobs, outcomes := newTestEngine(svc).PrepareJobs(context.Background(), []models.ProductRequest{req})
			assert.Empty(t, jobs)
			require.Contains(t, outcomes, "Submit_ICLISTENHF1234_HSD_png")

			o := outcomes["Submit_ICLISTENHF1234_HSD_png"]
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantReason, o.Reason)
			assert.Equal(t, tt.wantCalls, svc.submitCalls)
		})
	}
}

// --- run and status ---

func TestProcessJobsRunFailures(t *testing.T) {
	tests := []struct {
		name       string
		svc        *fakeService
		wantStatus models.OutcomeStatus
		wantReason string
	}{
		{
			name:       "missing run id",
			svc:        &fakeService{run: models.RunResult{FileCount: -1}},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonMissingRunID,
		},
		{
			name:       "run error",
			svc:        &fakeService{runErr: errors.New("connection reset")},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonRunError,
		},
		{
			name: "run permission error",
			svc: &fakeService{runErr: &api.APIError{StatusCode: 400,
				Errors: []api.ErrorDetail{{ErrorCode: 71, ErrorMessage: "Permissions not granted"}}}},
			wantStatus: models.OutcomeSkipped,
			wantReason: ReasonPermission,
		},
		{
			name:       "status check error",
			svc:        &fakeService{run: models.RunResult{RunID: 10, FileCount: 2}, statusErr: errors.New("timeout")},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonStatusCheckError,
		},
		{
			name:       "status not complete keeps raw status",
			svc:        &fakeService{run: models.RunResult{RunID: 10, FileCount: 2}, statuses: []models.StatusResult{status("CANCELLED")}},
			wantStatus: models.OutcomeFailed,
			wantReason: "CANCELLED",
		},
		{
			name:       "unknown status",
			svc:        &fakeService{run: models.RunResult{RunID: 10, FileCount: 2}, statuses: []models.StatusResult{status("weird")}},
			wantStatus: models.OutcomeFailed,
			wantReason: "weird",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, o := processOne(t, newTestEngine(tt.svc), testJob(t, "png"))
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantReason, o.Reason)
			assert.Equal(t, tt.wantStatus != models.OutcomeFailed, ok)
			assert.Zero(t, tt.svc.bulkCalls, "no download should be attempted")
		})
	}
}

func TestProcessJobsZeroFiles(t *testing.T) {
	svc := &fakeService{run: models.RunResult{RunID: 10, FileCount: 0}}
	ok, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.True(t, ok)
	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Zero(t, svc.bulkCalls)
	assert.Zero(t, svc.totalFileCalls())
}

// --- bulk stage ---

func TestBulkComplete(t *testing.T) {
	svc := &fakeService{
		run: models.RunResult{RunID: 10, FileCount: 2},
		bulk: []models.FileResult{
			{Index: "1", Filename: "a.png", Status: "complete", Downloaded: true, Size: 100},
			{Index: "2", Filename: "b.png", Status: "complete", Downloaded: true, Size: 50},
		},
	}
	job := testJob(t, "png")
	ok, o := processOne(t, newTestEngine(svc), job)

	assert.True(t, ok)
	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Empty(t, o.Reason)
	assert.Equal(t, models.OutcomeDetails{Expected: 2, Downloaded: 2, Bytes: 150}, o.Details)
	assert.Zero(t, svc.totalFileCalls(), "fallback should not run")
	assert.Equal(t, int64(10), job.RunID)
	assert.Equal(t, 3, svc.bulkOpts.MaxRetries)
}

func TestBulkSlowProductOptions(t *testing.T) {
	svc := &fakeService{
		run:  models.RunResult{RunID: 10, FileCount: 1},
		bulk: []models.FileResult{{Index: "1", Status: "complete", Downloaded: true}},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "mat"))

	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Equal(t, 5, svc.bulkOpts.MaxRetries)
	assert.Equal(t, 300*time.Second, svc.bulkOpts.Timeout)
}

func TestBulkAllSkipped(t *testing.T) {
	svc := &fakeService{
		run: models.RunResult{RunID: 10, FileCount: 2},
		bulk: []models.FileResult{
			{Index: "1", Status: "skipped"},
			{Index: "2", Status: "SKIPPED"},
		},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Equal(t, ReasonFilesExist, o.Reason)
	assert.Equal(t, 2, o.Details.Skipped)
	assert.Zero(t, svc.totalFileCalls())
}

func TestBulkInconclusiveFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		run     models.RunResult
		bulk    []models.FileResult
		bulkErr error
	}{
		{
			name: "errors",
			run:  models.RunResult{RunID: 10, FileCount: 2},
			bulk: []models.FileResult{{Index: "1", Status: "complete", Downloaded: true}, {Index: "2", Status: "error: gone"}},
		},
		{
			name: "fewer skipped than expected",
			run:  models.RunResult{RunID: 10, FileCount: 2},
			bulk: []models.FileResult{{Index: "1", Status: "skipped"}},
		},
		{
			name: "empty with files expected",
			run:  models.RunResult{RunID: 10, FileCount: 2},
		},
		{
			name: "only unclassified",
			run:  models.RunResult{RunID: 10, FileCount: 2},
			bulk: []models.FileResult{{Index: "1", Status: "running"}, {Index: "2", Status: ""}},
		},
		{
			name:    "call error",
			run:     models.RunResult{RunID: 10, FileCount: 2},
			bulkErr: errors.New("socket closed"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{run: tt.run, bulk: tt.bulk, bulkErr: tt.bulkErr}
			ok, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

			assert.True(t, ok)
			assert.Equal(t, models.OutcomeSuccess, o.Status)
			assert.Equal(t, 2, svc.totalFileCalls(), "fallback should fetch both files")
			assert.Equal(t, models.OutcomeDetails{Expected: 2, Downloaded: 2, Bytes: 20}, o.Details)
		})
	}
}

func TestBucketResults(t *testing.T) {
	b := bucketResults([]models.FileResult{
		{Status: "complete"},
		{Status: "whatever", Downloaded: true, Size: 7},
		{Status: "skipped"},
		{Status: "error: not found"},
		{Status: "Error"},
		{Status: "running"},
	})
	assert.Len(t, b.complete, 2)
	assert.Len(t, b.skipped, 1)
	assert.Len(t, b.errored, 2)
	assert.Len(t, b.unclassified, 1)
	assert.Equal(t, int64(7), b.bytes)
}

// --- fallback stage ---

func TestFallbackPartial(t *testing.T) {
	svc := &fakeService{
		run:     models.RunResult{RunID: 10, FileCount: 3},
		bulkErr: errors.New("boom"),
		fileResult: func(desc models.FileDescriptor, attempt int) models.DownloadResult {
			switch desc.Index {
			case 1:
				return models.DownloadedResult("a", 5, 200)
			case 2:
				return models.ExistsResult("b")
			default:
				return models.FailedResult("c", 410, "gone")
			}
		},
	}
	ok, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.True(t, ok, "a partial result is not a failure")
	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Equal(t, ReasonPartial, o.Reason)
	assert.Equal(t, models.OutcomeDetails{Expected: 3, Downloaded: 1, Skipped: 1, Failed: 1, Bytes: 5}, o.Details)
	assert.Equal(t, 1, svc.fileCalls[3], "png failures get no extra retry")
}

func TestFallbackAllFailed(t *testing.T) {
	svc := &fakeService{
		run:     models.RunResult{RunID: 10, FileCount: 2},
		bulkErr: errors.New("boom"),
		fileResult: func(desc models.FileDescriptor, attempt int) models.DownloadResult {
			return models.FailedResult("x", 404, "not found")
		},
	}
	ok, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.False(t, ok)
	assert.Equal(t, models.OutcomeFailed, o.Status)
	assert.Equal(t, ReasonFallbackFailed, o.Reason)
	assert.Equal(t, 2, o.Details.Failed)
}

func TestFallbackSlowProductRetriesOnce(t *testing.T) {
	svc := &fakeService{
		run:     models.RunResult{RunID: 10, FileCount: 2},
		bulkErr: errors.New("boom"),
		fileResult: func(desc models.FileDescriptor, attempt int) models.DownloadResult {
			if desc.Index == 1 && attempt == 1 {
				return models.FailedResult("a.mat", 0, "timeout")
			}
			if desc.Index == 2 {
				return models.FailedResult("b.mat", 410, "gone")
			}
			return models.DownloadedResult("a.mat", 1, 200)
		},
	}
	rec := &sleepRecorder{}
	e := NewEngine(svc, config.DefaultRunContext(), nil, WithSleep(rec.sleep))
	_, o := processOne(t, e, testJob(t, "mat"))

	assert.Equal(t, ReasonPartial, o.Reason)
	assert.Equal(t, 2, svc.fileCalls[1])
	assert.Equal(t, 2, svc.fileCalls[2], "exactly one extra attempt")
	assert.Equal(t, 1, o.Details.Downloaded)
	assert.Equal(t, 1, o.Details.Failed)

	// pre-download 10s, lead-in 15s, then per file: 2s delay and a 10s extra-retry wait
	assert.Equal(t, []time.Duration{
		10 * time.Second, 15 * time.Second,
		2 * time.Second, 10 * time.Second,
		2 * time.Second, 10 * time.Second,
	}, rec.waits)
}

func TestFallbackSkippedWhenNotComplete(t *testing.T) {
	svc := &fakeService{
		run:      models.RunResult{RunID: 10, FileCount: 2},
		bulkErr:  errors.New("boom"),
		statuses: []models.StatusResult{complete(), status("RUNNING")},
	}
	ok, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.False(t, ok)
	assert.Equal(t, ReasonFallbackSkipped, o.Reason)
	assert.Zero(t, svc.totalFileCalls())
}

func TestFallbackUnknownCount(t *testing.T) {
	svc := &fakeService{
		run:      models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:  errors.New("boom"),
		statuses: []models.StatusResult{complete(), complete(), status("RUNNING"), complete()},
		count:    3,
		invalidIndex: map[int]bool{
			2: true,
		},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Equal(t, 1, svc.countCalls)
	assert.Equal(t, 4, svc.statusCalls)
	assert.Equal(t, 3, o.Details.Expected)
	assert.Equal(t, 2, o.Details.Downloaded, "the invalid descriptor is dropped")
}

func TestFallbackUnknownCountExhausted(t *testing.T) {
	svc := &fakeService{
		run:      models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:  errors.New("boom"),
		statuses: []models.StatusResult{complete(), complete(), status("RUNNING")},
	}
	rc := config.DefaultRunContext(config.WithNoDelays(), config.WithFallback(3, 0))
	e := NewEngine(svc, rc, nil)
	ok, o := processOne(t, e, testJob(t, "png"))

	assert.False(t, ok)
	assert.Equal(t, ReasonFallbackFailed, o.Reason)
	assert.Equal(t, 5, svc.statusCalls)
	assert.Zero(t, svc.countCalls)
}

func TestFallbackUnknownCountRetriesTransientStatusError(t *testing.T) {
	svc := &fakeService{
		run:         models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:     errors.New("boom"),
		statusErrAt: map[int]error{3: &api.APIError{StatusCode: 503, Path: "/api/dataProductDelivery/status"}},
		count:       2,
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Equal(t, 4, svc.statusCalls)
	assert.Equal(t, 1, svc.countCalls)
	assert.Equal(t, 2, o.Details.Downloaded)
}

func TestFallbackUnknownCountStopsOnClientError(t *testing.T) {
	svc := &fakeService{
		run:         models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:     errors.New("boom"),
		statusErrAt: map[int]error{3: &api.APIError{StatusCode: 400}},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))

	assert.Equal(t, ReasonFallbackFailed, o.Reason)
	assert.Equal(t, 3, svc.statusCalls)
	assert.Zero(t, svc.countCalls)
}

func TestFallbackUnknownCountJobFailed(t *testing.T) {
	svc := &fakeService{
		run:      models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:  errors.New("boom"),
		statuses: []models.StatusResult{complete(), complete(), status("FAILED")},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))
	assert.Equal(t, ReasonFallbackFailed, o.Reason)
	assert.Zero(t, svc.countCalls)
}

func TestFallbackNoValidDescriptors(t *testing.T) {
	svc := &fakeService{
		run:          models.RunResult{RunID: 10, FileCount: 2},
		bulkErr:      errors.New("boom"),
		invalidIndex: map[int]bool{1: true, 2: true},
	}
	_, o := processOne(t, newTestEngine(svc), testJob(t, "png"))
	assert.Equal(t, models.OutcomeFailed, o.Status)
	assert.Equal(t, ReasonNoValidFiles, o.Reason)
}

func TestFallbackMatPollBackoff(t *testing.T) {
	svc := &fakeService{
		run:      models.RunResult{RunID: 10, FileCount: -1},
		bulkErr:  errors.New("boom"),
		statuses: []models.StatusResult{complete(), complete(), status("RUNNING"), status("RUNNING"), complete()},
		count:    0,
	}
	rec := &sleepRecorder{}
	e := NewEngine(svc, config.DefaultRunContext(), nil, WithSleep(rec.sleep))
	_, o := processOne(t, e, testJob(t, "mat"))

	assert.Equal(t, models.OutcomeSuccess, o.Status)
	// pre-download, lead-in, initial wait, then 5s and 10s between polls
	assert.Equal(t, []time.Duration{
		10 * time.Second, 15 * time.Second, 5 * time.Second,
		5 * time.Second, 10 * time.Second,
	}, rec.waits)
}

// --- run level ---

func TestProcessJobsAggregate(t *testing.T) {
	svc := &fakeService{run: models.RunResult{RunID: 10, FileCount: 0}}
	bus := events.NewEventBus(100)
	defer bus.Close()
	done := bus.Subscribe(events.EventRunComplete)

	e := newTestEngine(svc, WithEventBus(bus))
	jobs := []*models.Job{testJob(t, "png"), models.NewJob(testRequest(t, "pdf"), 43)}
	ok, outcomes := e.ProcessJobs(context.Background(), jobs, t.TempDir())

	assert.True(t, ok)
	assert.Contains(t, outcomes, "Req_42_ICLISTENHF1234_png")
	assert.Contains(t, outcomes, "Req_43_ICLISTENHF1234_pdf")

	select {
	case ev := <-done:
		rc, isRC := ev.(*events.RunCompleteEvent)
		require.True(t, isRC)
		assert.Equal(t, 2, rc.TotalJobs)
		assert.Equal(t, 2, rc.SuccessJobs)
		assert.Equal(t, "test-run", rc.RunID)
	case <-time.After(time.Second):
		t.Fatal("no run complete event")
	}
}

func TestProcessJobsOneFailureFailsRun(t *testing.T) {
	svc := &fakeService{run: models.RunResult{RunID: 10, FileCount: 1}, statuses: []models.StatusResult{status("FAILED")}}
	ok, _ := newTestEngine(svc).ProcessJobs(context.Background(), []*models.Job{testJob(t, "png")}, t.TempDir())
	assert.False(t, ok)
}

func TestProcessJobsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &fakeService{run: models.RunResult{RunID: 10, FileCount: 1}}
	ok, outcomes := newTestEngine(svc).ProcessJobs(ctx, []*models.Job{testJob(t, "png")}, t.TempDir())

	assert.False(t, ok)
	assert.Equal(t, ReasonCancelled, outcomes["Req_42_ICLISTENHF1234_png"].Reason)
}

// --- archive ---

func archiveWindow(t *testing.T) models.TimeWindow {
	w, err := models.ParseTimeWindow("2023-06-01", "2023-06-02")
	require.NoError(t, err)
	return w
}

func entry(name string, size int64) models.ArchiveFileEntry {
	return models.ArchiveFileEntry{Filename: name, Extension: models.ExtensionOf(name), SizeBytes: size}
}

func TestProcessArchiveDownloadsMissingOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), []byte("old"), 0644))

	svc := &fakeService{archive: []models.ArchiveFileEntry{
		entry("a.png", 10), entry("b.png", 10), entry("c.png", 10),
		entry("c-small.png", 1), entry("c-thumb.png", 1),
	}}
	e := newTestEngine(svc)

	ok, outcomes := e.ProcessArchive(context.Background(), "ICLISTENHF1234", archiveWindow(t), []string{"PNG"}, dir)
	require.True(t, ok)
	o := outcomes["Archive_ICLISTENHF1234_png"]
	assert.Equal(t, models.OutcomeSuccess, o.Status)
	assert.Empty(t, o.Reason)
	assert.Equal(t, models.OutcomeDetails{Expected: 3, Downloaded: 2, Skipped: 1, Bytes: 8}, o.Details)
	assert.ElementsMatch(t, []string{"b.png", "c.png"}, svc.archiveCalls)
	assert.Equal(t, "png", svc.archiveFilter.Extension)

	old, err := os.ReadFile(filepath.Join(dir, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old), "existing files are never overwritten")

	// a second run finds everything in place
	svc.archiveCalls = nil
	ok, outcomes = e.ProcessArchive(context.Background(), "ICLISTENHF1234", archiveWindow(t), []string{"png"}, dir)
	require.True(t, ok)
	o = outcomes["Archive_ICLISTENHF1234_png"]
	assert.Equal(t, ReasonAllFilesExist, o.Reason)
	assert.Equal(t, 3, o.Details.Skipped)
	assert.Empty(t, svc.archiveCalls)
}

func TestProcessArchiveOutcomes(t *testing.T) {
	fail := func(name string, opts models.DownloadOptions) models.DownloadResult {
		return models.FailedResult(name, 500, "server error")
	}
	failB := func(name string, opts models.DownloadOptions) models.DownloadResult {
		if name == "b.flac" {
			return fail(name, opts)
		}
		return models.DownloadedResult(name, 1, 200)
	}

	tests := []struct {
		name       string
		svc        *fakeService
		space      error
		wantStatus models.OutcomeStatus
		wantReason string
	}{
		{
			name:       "listing error",
			svc:        &fakeService{archiveErr: errors.New("boom")},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonListingError,
		},
		{
			name:       "no files",
			svc:        &fakeService{},
			wantStatus: models.OutcomeSuccess,
			wantReason: ReasonNoFilesFound,
		},
		{
			name:       "partial",
			svc:        &fakeService{archive: []models.ArchiveFileEntry{entry("a.flac", 1), entry("b.flac", 1)}, archiveDownload: failB},
			wantStatus: models.OutcomeSuccess,
			wantReason: ReasonPartial,
		},
		{
			name:       "all failed",
			svc:        &fakeService{archive: []models.ArchiveFileEntry{entry("a.flac", 1), entry("b.flac", 1)}, archiveDownload: fail},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonDownloadErrors,
		},
		{
			name:       "insufficient space",
			svc:        &fakeService{archive: []models.ArchiveFileEntry{entry("a.flac", 1 << 40)}},
			space:      &diskspace.InsufficientSpaceError{Path: "x", RequiredBytes: 1 << 40, AvailableBytes: 1},
			wantStatus: models.OutcomeFailed,
			wantReason: ReasonInsufficientSpace,
		},
		{
			name:       "space check error is not fatal",
			svc:        &fakeService{archive: []models.ArchiveFileEntry{entry("a.flac", 1)}},
			space:      errors.New("statfs failed"),
			wantStatus: models.OutcomeSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.svc, WithDiskSpaceCheck(func(string, int64) error { return tt.space }))
			ok, outcomes := e.ProcessArchive(context.Background(), "DEV", archiveWindow(t), []string{"flac"}, t.TempDir())

			o := outcomes["Archive_DEV_flac"]
			assert.Equal(t, tt.wantStatus, o.Status)
			assert.Equal(t, tt.wantReason, o.Reason)
			assert.Equal(t, tt.wantStatus != models.OutcomeFailed, ok)
			if tt.wantReason == ReasonInsufficientSpace {
				assert.Empty(t, tt.svc.archiveCalls)
			}
		})
	}
}

func TestProcessArchiveFilter(t *testing.T) {
	svc := &fakeService{archive: []models.ArchiveFileEntry{entry("H1_0600.flac", 1), entry("H1_0700.flac", 1)}}
	e := newTestEngine(svc, WithArchiveFilter(filter.Config{Exclude: []string{"*_07*"}}))

	_, outcomes := e.ProcessArchive(context.Background(), "DEV", archiveWindow(t), []string{"flac"}, t.TempDir())
	assert.Equal(t, 1, outcomes["Archive_DEV_flac"].Details.Expected)
	assert.Equal(t, []string{"H1_0600.flac"}, svc.archiveCalls)
}

func TestGroupByExtension(t *testing.T) {
	got := GroupByExtension([]models.ArchiveFileEntry{
		entry("a.png", 10), entry("b.flac", 100), entry("c.png", 5), {Filename: "README", SizeBytes: 1},
	})
	assert.Equal(t, []ExtensionSummary{
		{Extension: "flac", Count: 1, TotalBytes: 100},
		{Extension: "png", Count: 2, TotalBytes: 15},
		{Extension: "unknown", Count: 1, TotalBytes: 1},
	}, got)
}
