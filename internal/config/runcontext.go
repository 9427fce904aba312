package config

import (
	"strings"
	"time"

	"github.com/oceanhydro/hydrodl/internal/constants"
)

// RunContext carries every retry count, wait interval and overwrite policy
// used by one run of the engine. It is built once and never mutated; all
// fields are reachable only through accessors.
type RunContext struct {
	overwrite       bool
	includeMetadata bool
	listOnly        bool

	apiTimeout      time.Duration
	downloadTimeout time.Duration

	submitAttempts int
	submitBackoff  time.Duration

	preDownloadWait     time.Duration
	slowPreDownloadWait time.Duration
	bulkRetries         int
	slowBulkRetries     int

	fallbackRetries        int
	fallbackWait           time.Duration
	fallbackInitialWait    time.Duration
	matFallbackInitialWait time.Duration
	slowFallbackLeadIn     time.Duration
	interFileDelay         time.Duration
	slowInterFileDelay     time.Duration
	fileRetries            int
	slowFileRetries        int
	slowRetryAfterWait     time.Duration
	filePollPeriod         time.Duration
	slowFilePollPeriod     time.Duration
}

// RunOption adjusts a RunContext during construction.
type RunOption func(*RunContext)

// WithOverwrite sets the overwrite policy for job downloads.
func WithOverwrite(v bool) RunOption { return func(rc *RunContext) { rc.overwrite = v } }

// WithIncludeMetadata requests the metadata file alongside bulk downloads.
func WithIncludeMetadata(v bool) RunOption {
	return func(rc *RunContext) { rc.includeMetadata = v }
}

// WithListOnly prepares jobs and reports estimates without running them.
func WithListOnly(v bool) RunOption { return func(rc *RunContext) { rc.listOnly = v } }

// WithFallback overrides the fallback poll count and wait.
func WithFallback(retries int, wait time.Duration) RunOption {
	return func(rc *RunContext) {
		rc.fallbackRetries = retries
		rc.fallbackWait = wait
	}
}

// WithNoDelays zeroes every fixed wait. Retry counts are kept.
func WithNoDelays() RunOption {
	return func(rc *RunContext) {
		rc.submitBackoff = 0
		rc.preDownloadWait, rc.slowPreDownloadWait = 0, 0
		rc.fallbackWait = 0
		rc.fallbackInitialWait, rc.matFallbackInitialWait = 0, 0
		rc.slowFallbackLeadIn = 0
		rc.interFileDelay, rc.slowInterFileDelay = 0, 0
		rc.slowRetryAfterWait = 0
		rc.filePollPeriod, rc.slowFilePollPeriod = 0, 0
	}
}

// DefaultRunContext returns the stock timings.
func DefaultRunContext(opts ...RunOption) *RunContext {
	rc := &RunContext{
		apiTimeout:             constants.APITimeout,
		downloadTimeout:        constants.SlowProductTimeout,
		submitAttempts:         constants.SubmitMaxAttempts,
		submitBackoff:          constants.SubmitInitialBackoff,
		preDownloadWait:        constants.PreDownloadWait,
		slowPreDownloadWait:    constants.SlowPreDownloadWait,
		bulkRetries:            constants.BulkMaxRetries,
		slowBulkRetries:        constants.SlowBulkMaxRetries,
		fallbackRetries:        constants.FallbackRetries,
		fallbackWait:           constants.FallbackWait,
		fallbackInitialWait:    constants.FallbackInitialWait,
		matFallbackInitialWait: constants.MatFallbackInitialWait,
		slowFallbackLeadIn:     constants.SlowFallbackLeadIn,
		interFileDelay:         constants.InterFileDelay,
		slowInterFileDelay:     constants.SlowInterFileDelay,
		fileRetries:            constants.FileMaxRetries,
		slowFileRetries:        constants.SlowFileMaxRetries,
		slowRetryAfterWait:     constants.SlowRetryAfterWait,
		filePollPeriod:         constants.FilePollPeriod,
		slowFilePollPeriod:     constants.SlowFilePollPeriod,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// NewRunContext derives a RunContext from persisted configuration.
// Options are applied after the config values, so flags can override them.
func NewRunContext(cfg *Config, opts ...RunOption) *RunContext {
	base := []RunOption{
		WithOverwrite(cfg.Overwrite),
		WithIncludeMetadata(cfg.IncludeMetadata),
		WithFallback(cfg.FallbackRetries, cfg.FallbackWait),
		func(rc *RunContext) {
			if cfg.Timeout > 0 {
				rc.apiTimeout = cfg.Timeout
			}
			if cfg.DownloadTimeout > 0 {
				rc.downloadTimeout = cfg.DownloadTimeout
			}
		},
	}
	return DefaultRunContext(append(base, opts...)...)
}

// IsSlowProduct reports whether ext renders slowly on the server (mat, pdf).
func IsSlowProduct(ext string) bool {
	switch strings.ToLower(ext) {
	case "mat", "pdf":
		return true
	}
	return false
}

func isMat(ext string) bool { return strings.EqualFold(ext, "mat") }

func (rc *RunContext) Overwrite() bool       { return rc.overwrite }
func (rc *RunContext) IncludeMetadata() bool { return rc.includeMetadata }
func (rc *RunContext) ListOnly() bool        { return rc.listOnly }

// SubmitAttempts is the number of submission attempts on HTTP 500.
func (rc *RunContext) SubmitAttempts() int { return rc.submitAttempts }

// SubmitBackoff is the first wait between submission attempts; it doubles.
func (rc *RunContext) SubmitBackoff() time.Duration { return rc.submitBackoff }

// PreDownloadWait precedes the bulk attempt.
func (rc *RunContext) PreDownloadWait(ext string) time.Duration {
	if IsSlowProduct(ext) {
		return rc.slowPreDownloadWait
	}
	return rc.preDownloadWait
}

// BulkRetries is the per-file retry count passed to the bulk call.
func (rc *RunContext) BulkRetries(ext string) int {
	if IsSlowProduct(ext) {
		return rc.slowBulkRetries
	}
	return rc.bulkRetries
}

// FallbackRetries is the number of status polls while determining the file count.
func (rc *RunContext) FallbackRetries() int { return rc.fallbackRetries }

// FallbackInitialWait precedes the first status poll.
func (rc *RunContext) FallbackInitialWait(ext string) time.Duration {
	if isMat(ext) {
		return rc.matFallbackInitialWait
	}
	return rc.fallbackInitialWait
}

// FallbackPollWait is the wait after poll attempt (0-based). mat backs off exponentially.
func (rc *RunContext) FallbackPollWait(ext string, attempt int) time.Duration {
	if isMat(ext) && attempt > 0 {
		return rc.fallbackWait * time.Duration(1<<uint(attempt))
	}
	return rc.fallbackWait
}

// FallbackLeadIn is an extra wait before fallback starts for slow products.
func (rc *RunContext) FallbackLeadIn(ext string) time.Duration {
	if IsSlowProduct(ext) {
		return rc.slowFallbackLeadIn
	}
	return 0
}

// InterFileDelay separates individual file requests in fallback.
func (rc *RunContext) InterFileDelay(ext string) time.Duration {
	if IsSlowProduct(ext) {
		return rc.slowInterFileDelay
	}
	return rc.interFileDelay
}

// FileRetries is the per-file retry count in fallback.
func (rc *RunContext) FileRetries(ext string) int {
	if IsSlowProduct(ext) {
		return rc.slowFileRetries
	}
	return rc.fileRetries
}

// ExtraRetryWait reports the wait before a single extra attempt for a failed
// file, and whether that extra attempt applies to ext at all.
func (rc *RunContext) ExtraRetryWait(ext string) (time.Duration, bool) {
	if IsSlowProduct(ext) {
		return rc.slowRetryAfterWait, true
	}
	return 0, false
}

// FilePollPeriod is the interval between polls of a file still rendering.
func (rc *RunContext) FilePollPeriod(ext string) time.Duration {
	if IsSlowProduct(ext) {
		return rc.slowFilePollPeriod
	}
	return rc.filePollPeriod
}

// DownloadTimeout bounds one file download.
func (rc *RunContext) DownloadTimeout(ext string) time.Duration {
	if IsSlowProduct(ext) {
		return rc.downloadTimeout
	}
	return rc.apiTimeout
}

// APITimeout bounds catalog, submit and status calls.
func (rc *RunContext) APITimeout() time.Duration { return rc.apiTimeout }
