// Package deployment selects hydrophone deployments that overlap a time
// window and discovers them from the ONC catalog.
package deployment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oceanhydro/hydrodl/internal/models"
)

// ErrNoData is returned when no deployment overlaps the requested window.
var ErrNoData = errors.New("no deployments overlap the requested window")

// MatchResult is the outcome of Match.
type MatchResult struct {
	// Matched deployments, sorted by device code then begin time.
	Matched []models.Deployment

	// Dropped counts records discarded for a missing or unparseable begin.
	Dropped int

	// Notes describes records that were kept with a repaired value, such
	// as an unparseable end treated as ongoing.
	Notes []string
}

// Match parses raw deployment records and keeps those overlapping w. An
// ongoing deployment is treated as ending at now. Returns ErrNoData when
// nothing matches.
func Match(raw []models.RawDeployment, w models.TimeWindow, now time.Time) (MatchResult, error) {
	var res MatchResult

	for _, r := range raw {
		dep, note, ok := parse(r)
		if !ok {
			res.Dropped++
			continue
		}
		if note != "" {
			res.Notes = append(res.Notes, note)
		}
		if dep.Overlaps(w, now) {
			res.Matched = append(res.Matched, dep)
		}
	}

	sort.SliceStable(res.Matched, func(i, j int) bool {
		a, b := res.Matched[i], res.Matched[j]
		if a.DeviceCode != b.DeviceCode {
			return a.DeviceCode < b.DeviceCode
		}
		return a.Begin.Before(b.Begin)
	})

	if len(res.Matched) == 0 {
		return res, fmt.Errorf("%w (%s, %d records, %d dropped)", ErrNoData, w, len(raw), res.Dropped)
	}
	return res, nil
}

func parse(r models.RawDeployment) (models.Deployment, string, bool) {
	if strings.TrimSpace(r.Begin) == "" {
		return models.Deployment{}, "", false
	}
	begin, err := models.ParseTimestamp(r.Begin)
	if err != nil {
		return models.Deployment{}, "", false
	}

	dep := models.Deployment{
		DeviceCode:   r.DeviceCode,
		LocationCode: r.LocationCode,
		Begin:        begin,
		Citation:     r.Citation,
	}

	var note string
	if strings.TrimSpace(r.End) != "" {
		end, err := models.ParseTimestamp(r.End)
		if err != nil {
			note = fmt.Sprintf("%s at %s: unparseable end %q treated as ongoing", r.DeviceCode, r.LocationCode, r.End)
		} else {
			dep.End = &end
		}
	}
	return dep, note, true
}

// LocationGroup is a set of deployments sharing a parent location.
type LocationGroup struct {
	ParentLocation string
	Deployments    []models.Deployment
}

// GroupByParentLocation groups deployments by the part of their location
// code before the first '.', sorted by parent location.
func GroupByParentLocation(deps []models.Deployment) []LocationGroup {
	index := make(map[string]int)
	var groups []LocationGroup
	for _, d := range deps {
		parent := d.ParentLocation()
		i, ok := index[parent]
		if !ok {
			i = len(groups)
			index[parent] = i
			groups = append(groups, LocationGroup{ParentLocation: parent})
		}
		groups[i].Deployments = append(groups[i].Deployments, d)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].ParentLocation < groups[j].ParentLocation
	})
	return groups
}
