package models

// OutcomeStatus is the final classification of a job or archive extension.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeSkipped
	OutcomeFailed
)

func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "Success"
	case OutcomeSkipped:
		return "Skipped"
	default:
		return "Failed"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s OutcomeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OutcomeDetails carries the file counts of an outcome.
type OutcomeDetails struct {
	Expected   int `json:"expected"`
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`

	// Bytes is the amount of data written by this job.
	Bytes int64 `json:"bytes,omitempty"`
}

// DownloadOutcome is the per-job (or per-extension) result consumed by the aggregator.
type DownloadOutcome struct {
	Status  OutcomeStatus  `json:"status"`
	Reason  string         `json:"reason,omitempty"`
	Details OutcomeDetails `json:"details"`
}

// Succeeded builds a Success outcome.
func Succeeded(reason string, d OutcomeDetails) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeSuccess, Reason: reason, Details: d}
}

// SkippedOutcome builds a Skipped outcome.
func SkippedOutcome(reason string, d OutcomeDetails) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeSkipped, Reason: reason, Details: d}
}

// FailedOutcome builds a Failed outcome.
func FailedOutcome(reason string, d OutcomeDetails) DownloadOutcome {
	return DownloadOutcome{Status: OutcomeFailed, Reason: reason, Details: d}
}
