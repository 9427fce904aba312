package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oceanhydro/hydrodl/internal/constants"
)

// ErrInvalidWindow is returned for empty or inverted time windows.
var ErrInvalidWindow = errors.New("invalid time window: end must be after start")

// TimeWindow is a UTC interval with End strictly after Start.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewTimeWindow normalizes both bounds to UTC and validates ordering.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return TimeWindow{}, fmt.Errorf("%w (start=%s end=%s)", ErrInvalidWindow,
			FormatTimestamp(start), FormatTimestamp(end))
	}
	return TimeWindow{Start: start, End: end}, nil
}

// ParseTimeWindow parses both bounds with ParseTimestamp.
func ParseTimeWindow(start, end string) (TimeWindow, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("end: %w", err)
	}
	return NewTimeWindow(s, e)
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w TimeWindow) String() string {
	return FormatTimestamp(w.Start) + " → " + FormatTimestamp(w.End)
}

// zoned layouts carry an offset; naive layouts are interpreted as UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z0700",
		"2006-01-02T15:04:05Z0700",
	}
	naiveLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// ParseTimestamp parses an ISO-8601 timestamp into a UTC instant.
// Timestamps without an offset are assumed to be UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// FormatTimestamp renders t in UTC with millisecond precision and a literal Z.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(constants.TimestampLayout)
}
