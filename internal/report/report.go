// Package report aggregates per-job outcomes into a run summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/util/humansize"
	stringsutil "github.com/oceanhydro/hydrodl/internal/util/strings"
)

// SubmitKey is the summary key of a request that never got a request id.
func SubmitKey(deviceCode, productCode, ext string) string {
	return fmt.Sprintf("Submit_%s_%s_%s", deviceCode, productCode, ext)
}

// JobKey is the summary key of a data-product job.
func JobKey(requestID int64, deviceCode, ext string) string {
	return fmt.Sprintf("Req_%d_%s_%s", requestID, deviceCode, ext)
}

// ArchiveKey is the summary key of one extension of an archive download.
func ArchiveKey(deviceCode, ext string) string {
	return fmt.Sprintf("Archive_%s_%s", deviceCode, ext)
}

// Aggregator collects outcomes keyed by job. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	outcomes map[string]models.DownloadOutcome
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{outcomes: make(map[string]models.DownloadOutcome)}
}

// Record stores the outcome for key, replacing any earlier one.
func (a *Aggregator) Record(key string, outcome models.DownloadOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[key] = outcome
}

// RecordAll records every entry of outcomes.
func (a *Aggregator) RecordAll(outcomes map[string]models.DownloadOutcome) {
	for k, o := range outcomes {
		a.Record(k, o)
	}
}

// Outcome returns the outcome recorded for key.
func (a *Aggregator) Outcome(key string) (models.DownloadOutcome, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.outcomes[key]
	return o, ok
}

// Len returns the number of recorded keys.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.outcomes)
}

// AllSucceeded is false iff any recorded outcome is Failed.
func (a *Aggregator) AllSucceeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, o := range a.outcomes {
		if o.Status == models.OutcomeFailed {
			return false
		}
	}
	return true
}

// Totals sums the outcomes.
type Totals struct {
	Jobs      int
	Succeeded int
	Skipped   int
	Failed    int
	Files     models.OutcomeDetails
}

// Totals returns the summed counts over all recorded outcomes.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := Totals{Jobs: len(a.outcomes)}
	for _, o := range a.outcomes {
		switch o.Status {
		case models.OutcomeSuccess:
			t.Succeeded++
		case models.OutcomeSkipped:
			t.Skipped++
		default:
			t.Failed++
		}
		if o.Details.Expected > 0 {
			t.Files.Expected += o.Details.Expected
		}
		t.Files.Downloaded += o.Details.Downloaded
		t.Files.Skipped += o.Details.Skipped
		t.Files.Failed += o.Details.Failed
		t.Files.Bytes += o.Details.Bytes
	}
	return t
}

func (a *Aggregator) sortedKeys() []string {
	keys := make([]string, 0, len(a.outcomes))
	for k := range a.outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reasonPartial marks a success where some files failed.
const reasonPartial = "Partial"

// Icon returns the summary icon for an outcome. Informational success
// reasons such as "All Files Already Exist" keep the success icon.
func Icon(o models.DownloadOutcome) string {
	switch {
	case o.Status == models.OutcomeFailed:
		return "❌"
	case o.Status == models.OutcomeSkipped, o.Reason == reasonPartial:
		return "⚠️"
	default:
		return "✅"
	}
}

// WriteSummary prints one line per key in sorted order followed by a
// totals line.
func (a *Aggregator) WriteSummary(w io.Writer) error {
	a.mu.Lock()
	keys := a.sortedKeys()
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, formatLine(k, a.outcomes[k]))
	}
	a.mu.Unlock()

	t := a.Totals()
	var b strings.Builder
	b.WriteString("Download summary:\n")
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Total: %d %s (%d succeeded, %d skipped, %d failed); files: %d downloaded, %d skipped, %d failed",
		t.Jobs, stringsutil.Pluralize("job", t.Jobs), t.Succeeded, t.Skipped, t.Failed,
		t.Files.Downloaded, t.Files.Skipped, t.Files.Failed)
	if t.Files.Bytes > 0 {
		fmt.Fprintf(&b, "; %s", humansize.Format(t.Files.Bytes))
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func formatLine(key string, o models.DownloadOutcome) string {
	status := o.Status.String()
	if o.Reason != "" {
		status += " (" + o.Reason + ")"
	}
	d := o.Details
	expected := "?"
	if d.Expected >= 0 {
		expected = fmt.Sprint(d.Expected)
	}
	return fmt.Sprintf("  %s %s: %s [expected %s, downloaded %d, skipped %d, failed %d]",
		Icon(o), key, status, expected, d.Downloaded, d.Skipped, d.Failed)
}

// WriteJSON writes the outcomes as a JSON object keyed by job.
func (a *Aggregator) WriteJSON(w io.Writer) error {
	a.mu.Lock()
	snapshot := make(map[string]models.DownloadOutcome, len(a.outcomes))
	for k, o := range a.outcomes {
		snapshot[k] = o
	}
	a.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snapshot)
}
