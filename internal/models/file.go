package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveFileEntry is one candidate file from an archive listing.
type ArchiveFileEntry struct {
	Filename  string
	Extension string
	SizeBytes int64
}

// ExtensionOf returns the lowercase extension of a filename without the dot.
func ExtensionOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// ArchiveFilter selects archive files for a device and window.
// An empty Extension lists every type.
type ArchiveFilter struct {
	DeviceCode string
	Window     TimeWindow
	Extension  string
}

// FileResult is one per-file entry returned by a bulk job download.
type FileResult struct {
	Index      string
	Filename   string
	Status     string
	Downloaded bool
	Size       int64
}

// FileDescriptor identifies one output file of a run.
type FileDescriptor struct {
	RunID    int64
	Index    int
	Filename string
	Size     int64
	Status   string
}

// Valid reports whether the descriptor can be downloaded.
func (d FileDescriptor) Valid() bool {
	return d.RunID > 0 && d.Index > 0
}

// DisplayName returns the remote filename or a placeholder built from run and index.
func (d FileDescriptor) DisplayName(ext string) string {
	if d.Filename != "" {
		return d.Filename
	}
	return fmt.Sprintf("file_%d_%d.%s", d.RunID, d.Index, ext)
}

// DownloadOptions controls a single download primitive call.
type DownloadOptions struct {
	OutDir          string
	Overwrite       bool
	MaxRetries      int
	PollPeriod      time.Duration
	Timeout         time.Duration
	IncludeMetadata bool
}

// DownloadState is the tri-state outcome of a download primitive.
type DownloadState int

const (
	DownloadFailed DownloadState = iota
	Downloaded
	AlreadyExists
)

func (s DownloadState) String() string {
	switch s {
	case Downloaded:
		return "downloaded"
	case AlreadyExists:
		return "exists"
	default:
		return "failed"
	}
}

// DownloadResult is returned by download primitives instead of an error.
type DownloadResult struct {
	State      DownloadState
	Reason     string
	StatusCode int
	Filename   string
	Size       int64
}

// DownloadedResult builds a successful result.
func DownloadedResult(filename string, size int64, statusCode int) DownloadResult {
	return DownloadResult{State: Downloaded, Filename: filename, Size: size, StatusCode: statusCode}
}

// ExistsResult builds a result for a file already present locally.
func ExistsResult(filename string) DownloadResult {
	return DownloadResult{State: AlreadyExists, Filename: filename}
}

// FailedResult builds a failed result.
func FailedResult(filename string, statusCode int, reason string) DownloadResult {
	return DownloadResult{State: DownloadFailed, Filename: filename, StatusCode: statusCode, Reason: reason}
}

// DataProduct is one entry of a device's data-product catalog.
type DataProduct struct {
	ProductCode string
	ProductName string
	Extension   string
}
