package constants

import (
	"time"
)

// ONC service endpoints
const (
	// DefaultBaseURL - public ONC Oceans 3.0 API root
	DefaultBaseURL = "https://data.oceannetworks.ca/api/"

	// HydrophoneCategory - device category used for catalog discovery
	HydrophoneCategory = "HYDROPHONE"

	// TimestampLayout - ISO-8601 UTC with milliseconds; the Z is literal
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// HTTP timeouts
const (
	// APITimeout - default timeout for catalog/status/submit calls (60s)
	APITimeout = 60 * time.Second

	// SlowProductTimeout - timeout for downloads of slow-rendering products (5 minutes)
	// mat and pdf renders are generated on demand and can take minutes per file
	SlowProductTimeout = 300 * time.Second

	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 15 * time.Second

	// HTTPIdleConnTimeout - keep idle connections for reuse across polls
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPMaxIdleConnsPerHost - ONC is a single host; a handful of idle conns is plenty
	HTTPMaxIdleConnsPerHost = 8
)

// Transport retries (go-retryablehttp)
const (
	TransportRetryMax     = 4
	TransportRetryWaitMin = 1 * time.Second
	TransportRetryWaitMax = 30 * time.Second
)

// Rate limiting for ONC API calls
const (
	// ONCRequestsPerSecond - sustained request rate for one client
	ONCRequestsPerSecond = 5.0

	// ONCBurst - burst capacity
	ONCBurst = 10
)

// Job submission retry
const (
	// SubmitMaxAttempts - attempts for a submission that fails with HTTP 500
	SubmitMaxAttempts = 3

	// SubmitInitialBackoff - first wait, doubled each attempt
	SubmitInitialBackoff = 2 * time.Second
)

// Job run polling
const (
	// RunPollPeriod - interval between status polls while a run is executing
	RunPollPeriod = 2 * time.Second

	// RunMaxWait - upper bound on waiting for a run to reach a terminal state
	RunMaxWait = 2 * time.Hour

	// FilePollPeriod - interval between polls of a file that is still rendering (HTTP 202)
	FilePollPeriod = 1 * time.Second

	// SlowFilePollPeriod - as above for mat/pdf
	SlowFilePollPeriod = 2 * time.Second
)

// Bulk download stage
const (
	// PreDownloadWait - delay between completion and the bulk attempt
	PreDownloadWait = 5 * time.Second

	// SlowPreDownloadWait - pre-download delay for mat/pdf
	SlowPreDownloadWait = 10 * time.Second

	// BulkMaxRetries - per-file retries inside the bulk call
	BulkMaxRetries = 3

	// SlowBulkMaxRetries - as above for mat/pdf
	SlowBulkMaxRetries = 5

	// MaxRunFileIndex - safety cap on index probing for one run
	MaxRunFileIndex = 10000
)

// Fallback per-file downloader
const (
	// FallbackRetries - status polls while determining the file count
	FallbackRetries = 12

	// FallbackWait - wait between status polls
	FallbackWait = 5 * time.Second

	// FallbackInitialWait - first wait before polling when the count is unknown
	FallbackInitialWait = 3 * time.Second

	// MatFallbackInitialWait - as above for mat
	MatFallbackInitialWait = 5 * time.Second

	// SlowFallbackLeadIn - extra wait before fallback starts for mat/pdf
	SlowFallbackLeadIn = 15 * time.Second

	// InterFileDelay - pause between individual file requests
	InterFileDelay = 500 * time.Millisecond

	// SlowInterFileDelay - as above for mat/pdf
	SlowInterFileDelay = 2 * time.Second

	// FileMaxRetries - per-file retries in fallback
	FileMaxRetries = 3

	// SlowFileMaxRetries - as above for mat/pdf
	SlowFileMaxRetries = 5

	// SlowRetryAfterWait - single extra retry delay for failed mat/pdf files
	SlowRetryAfterWait = 10 * time.Second
)

// Discovery
const (
	// DiscoveryWorkers - bounded worker count for parallel catalog reads
	DiscoveryWorkers = 10
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond listed sizes (15%)
	DiskSpaceBufferPercent = 0.15
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size
	EventBusMaxBuffer = 4096
)

// UI Updates
const (
	// ProgressRefreshInterval - mpb refresh rate
	ProgressRefreshInterval = 150 * time.Millisecond
)
