package models

import (
	"regexp"
	"strings"
	"time"
)

// Device is a catalog entry for a sensor.
type Device struct {
	DeviceCode         string
	DeviceCategoryCode string
	DeviceName         string
}

// RawDeployment is a deployment record as returned by the service,
// before its timestamps are parsed. End is empty for ongoing deployments.
type RawDeployment struct {
	DeviceCode   string
	LocationCode string
	Begin        string
	End          string
	Citation     string
}

// Deployment is a device's presence at a location over [Begin, End).
// End is nil while the deployment is ongoing.
type Deployment struct {
	DeviceCode   string
	LocationCode string
	Begin        time.Time
	End          *time.Time
	Citation     string
}

// EffectiveEnd returns End, or now for an open deployment.
func (d Deployment) EffectiveEnd(now time.Time) time.Time {
	if d.End == nil {
		return now.UTC()
	}
	return *d.End
}

// Overlaps reports whether the deployment intersects w.
func (d Deployment) Overlaps(w TimeWindow, now time.Time) bool {
	return !d.Begin.After(w.End) && !d.EffectiveEnd(now).Before(w.Start)
}

// ParentLocation returns the location code up to the first '.'.
func (d Deployment) ParentLocation() string {
	if i := strings.IndexByte(d.LocationCode, '.'); i >= 0 {
		return d.LocationCode[:i]
	}
	return d.LocationCode
}

// CitationName returns a human-readable site name derived from the citation, if any.
func (d Deployment) CitationName() string {
	return CitationName(d.Citation)
}

var (
	citationDeployedRe = regexp.MustCompile(`(?i)\.\s*\d{4}\.\s*(.*?)(?:\s+Hydrophone)?\s+Deployed\s+\d{4}-\d{2}-\d{2}`)
	citationSimpleRe   = regexp.MustCompile(`\.\s*\d{4}\.\s*(.*)`)
	isoDateRe          = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	doiRe              = regexp.MustCompile(`(?i)https?://doi\.org`)
	trailingHydroRe    = regexp.MustCompile(`(?i)\s+Hydrophone\s+Deployed.*$`)
	trailingDeployedRe = regexp.MustCompile(`(?i)\s+Deployed.*$`)
)

// CitationName extracts a site name from an ONC citation string such as
// "Ocean Networks Canada Society. 2023. Barkley Upper Slope Hydrophone Deployed 2023-05-01. ...".
// Returns "" if nothing plausible is found.
func CitationName(citation string) string {
	if citation == "" {
		return ""
	}

	if m := citationDeployedRe.FindStringSubmatch(citation); m != nil {
		name := strings.TrimRight(strings.TrimSpace(m[1]), ".,;:!?)(")
		if usableSiteName(name) {
			return name
		}
	}

	m := citationSimpleRe.FindStringSubmatch(citation)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[1])
	if loc := isoDateRe.FindStringIndex(name); loc != nil {
		name = strings.TrimSpace(name[:loc[0]])
	}
	if loc := doiRe.FindStringIndex(name); loc != nil {
		name = strings.TrimSpace(name[:loc[0]])
	}
	name = strings.TrimSpace(trailingHydroRe.ReplaceAllString(name, ""))
	name = strings.TrimSpace(trailingDeployedRe.ReplaceAllString(name, ""))
	name = strings.TrimRight(name, ".,;:!?)(")
	if usableSiteName(name) {
		return name
	}
	return ""
}

func usableSiteName(name string) bool {
	if name == "" {
		return false
	}
	switch strings.ToLower(name) {
	case "hydrophone", "underwater network":
		return false
	}
	return true
}
