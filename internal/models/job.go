// Package models defines the data model shared by the hydrodl packages.
package models

import (
	"fmt"
	"sort"
	"strings"
)

// JobStatus is the closed set of states a data-product job can be in.
// Remote status strings are decoded once via ParseJobStatus.
type JobStatus int

const (
	StatusUnknown JobStatus = iota
	StatusSubmitted
	StatusRunning
	StatusComplete
	StatusFailed
	StatusCancelled
)

// String returns the canonical name.
func (s JobStatus) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusRunning:
		return "Running"
	case StatusComplete:
		return "Complete"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// ParseJobStatus maps a remote status string to a JobStatus.
// Matching is case-insensitive; unrecognized values map to StatusUnknown.
func ParseJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "complete", "completed":
		return StatusComplete
	case "queued", "submitted", "pending", "accepted":
		return StatusSubmitted
	case "running", "data search", "processing", "in progress":
		return StatusRunning
	case "failed", "error":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusUnknown
	}
}

// ProductRequest is a normalized data-product request payload.
// Build it with products.Builder; treat it as read-only afterwards.
type ProductRequest struct {
	DeviceCode  string
	ProductCode string
	Extension   string
	Window      TimeWindow
	ExtraParams map[string]any
}

// Params renders the request as ONC query parameters.
func (r ProductRequest) Params() map[string]string {
	p := map[string]string{
		"deviceCode":      r.DeviceCode,
		"dataProductCode": r.ProductCode,
		"extension":       r.Extension,
		"dateFrom":        FormatTimestamp(r.Window.Start),
		"dateTo":          FormatTimestamp(r.Window.End),
	}
	for k, v := range r.ExtraParams {
		p[k] = fmt.Sprint(v)
	}
	return p
}

// ExtraParamKeys returns the preset parameter names in sorted order.
func (r ProductRequest) ExtraParamKeys() []string {
	keys := make([]string, 0, len(r.ExtraParams))
	for k := range r.ExtraParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Job is the remote unit of work. Only the lifecycle controller mutates it.
type Job struct {
	Request ProductRequest

	// RequestID is assigned at submission (dpRequestId).
	RequestID int64

	// RunID is assigned once the service accepts execution (dpRunId).
	// Zero means no usable run id.
	RunID int64

	Status    JobStatus
	RawStatus string

	// ExpectedFileCount is -1 while unknown.
	ExpectedFileCount int

	EstimatedBytes int64
	Warnings       []string
}

// NewJob creates a job for a request that has just been submitted.
func NewJob(req ProductRequest, requestID int64) *Job {
	return &Job{
		Request:           req,
		RequestID:         requestID,
		Status:            StatusSubmitted,
		ExpectedFileCount: -1,
	}
}

// SubmitResult is the typed response of a job submission.
type SubmitResult struct {
	RequestID      int64
	Warnings       []string
	EstimatedBytes int64
}

// RunResult is the typed response of starting (and awaiting) a job run.
type RunResult struct {
	RunID     int64
	FileCount int // -1 when the service did not report one
	Status    JobStatus
	RawStatus string
}

// StatusResult is the typed response of a status check.
type StatusResult struct {
	Status    JobStatus
	RawStatus string
	Errors    []string
}
