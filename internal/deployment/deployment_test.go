package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oceanhydro/hydrodl/internal/api"
	"github.com/oceanhydro/hydrodl/internal/models"
)

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func window(t *testing.T, start, end string) models.TimeWindow {
	t.Helper()
	w, err := models.ParseTimeWindow(start, end)
	if err != nil {
		t.Fatalf("ParseTimeWindow: %v", err)
	}
	return w
}

func TestMatch(t *testing.T) {
	w := window(t, "2023-06-01T00:00:00Z", "2023-06-02T00:00:00Z")
	raw := []models.RawDeployment{
		{DeviceCode: "B", LocationCode: "BACUS.H1", Begin: "2023-01-01T00:00:00.000Z", End: "2023-12-31T00:00:00.000Z"},
		{DeviceCode: "A", LocationCode: "CBYIP", Begin: "2023-05-01T00:00:00Z"},                         // ongoing
		{DeviceCode: "C", LocationCode: "BACAX", Begin: "2022-01-01T00:00:00Z", End: "2023-05-31T23:59:59Z"}, // ended before
		{DeviceCode: "D", LocationCode: "FGPD", Begin: "2023-06-02T00:00:01Z"},                          // starts after
		{DeviceCode: "E", LocationCode: "X", Begin: ""},                                                  // dropped
		{DeviceCode: "F", LocationCode: "X", Begin: "not a date"},                                        // dropped
		{DeviceCode: "G", LocationCode: "USDDL", Begin: "2023-06-01T00:00:00", End: "garbage"},           // open end
		{DeviceCode: "H", LocationCode: "BACUS", Begin: "2023-06-02T00:00:00Z"},                          // touches end
	}

	res, err := Match(raw, w, now)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", res.Dropped)
	}
	if len(res.Notes) != 1 {
		t.Errorf("expected one note for the unparseable end, got %v", res.Notes)
	}

	var codes []string
	for _, d := range res.Matched {
		codes = append(codes, d.DeviceCode)
	}
	if fmt.Sprint(codes) != "[A B G H]" {
		t.Errorf("matched %v, want [A B G H]", codes)
	}

	for _, d := range res.Matched {
		if d.DeviceCode == "G" && d.End != nil {
			t.Error("unparseable end should be treated as ongoing")
		}
		if d.Begin.Location() != time.UTC {
			t.Errorf("begin of %s not in UTC", d.DeviceCode)
		}
	}
}

func TestMatchNoData(t *testing.T) {
	w := window(t, "2023-06-01", "2023-06-02")
	raw := []models.RawDeployment{
		{DeviceCode: "C", Begin: "2020-01-01T00:00:00Z", End: "2021-01-01T00:00:00Z"},
	}
	_, err := Match(raw, w, now)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}

	_, err = Match(nil, w, now)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData for empty input, got %v", err)
	}
}

func TestMatchOngoingUsesNow(t *testing.T) {
	w := window(t, "2024-02-01", "2024-02-02")
	raw := []models.RawDeployment{{DeviceCode: "A", Begin: "2023-01-01"}}

	if _, err := Match(raw, w, now); !errors.Is(err, ErrNoData) {
		t.Errorf("ongoing deployment should end at now, got %v", err)
	}
	if _, err := Match(raw, w, now.AddDate(0, 3, 0)); err != nil {
		t.Errorf("expected a match once now passes the window: %v", err)
	}
}

func TestGroupByParentLocation(t *testing.T) {
	deps := []models.Deployment{
		{DeviceCode: "A", LocationCode: "BACUS.H1"},
		{DeviceCode: "B", LocationCode: "CBYIP"},
		{DeviceCode: "C", LocationCode: "BACUS.H2"},
	}
	groups := GroupByParentLocation(deps)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].ParentLocation != "BACUS" || len(groups[0].Deployments) != 2 {
		t.Errorf("unexpected first group: %+v", groups[0])
	}
	if groups[1].ParentLocation != "CBYIP" {
		t.Errorf("unexpected second group: %+v", groups[1])
	}
}

type fakeCatalog struct {
	devices     []models.Device
	deployments map[string][]models.RawDeployment
	failing     map[string]bool

	mu       sync.Mutex
	inFlight int32
	maxSeen  int32
	calls    int
}

func (f *fakeCatalog) ListDevices(ctx context.Context, category string) ([]models.Device, error) {
	if category != "HYDROPHONE" {
		return nil, fmt.Errorf("unexpected category %q", category)
	}
	return f.devices, nil
}

func (f *fakeCatalog) ListDeployments(ctx context.Context, deviceCode string) ([]models.RawDeployment, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	f.calls++
	if n > f.maxSeen {
		f.maxSeen = n
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if f.failing[deviceCode] {
		return nil, errors.New("boom")
	}
	out := make([]models.RawDeployment, len(f.deployments[deviceCode]))
	copy(out, f.deployments[deviceCode])
	return out, nil
}

func (f *fakeCatalog) ListDataProducts(ctx context.Context, deviceCode string) ([]models.DataProduct, error) {
	return []models.DataProduct{{ProductCode: "HSD", Extension: "png"}}, nil
}

func newFakeCatalog(n int) *fakeCatalog {
	f := &fakeCatalog{deployments: map[string][]models.RawDeployment{}, failing: map[string]bool{}}
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("ICLISTENHF%04d", i)
		f.devices = append(f.devices, models.Device{DeviceCode: code, DeviceCategoryCode: "HYDROPHONE"})
		// device code intentionally left blank; the discoverer fills it in
		f.deployments[code] = []models.RawDeployment{{LocationCode: "LOC", Begin: "2023-01-01T00:00:00Z"}}
	}
	return f
}

func TestFindOverlappingSequentialAndParallelAgree(t *testing.T) {
	w := window(t, "2023-06-01", "2023-06-02")

	cat := newFakeCatalog(25)
	cat.failing["ICLISTENHF0003"] = true

	seq, err := NewDiscoverer(cat, nil, WithClock(func() time.Time { return now })).
		FindOverlapping(context.Background(), w, false)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}
	if cat.maxSeen != 1 {
		t.Errorf("sequential discovery ran %d requests at once", cat.maxSeen)
	}

	cat2 := newFakeCatalog(25)
	cat2.failing["ICLISTENHF0003"] = true
	par, err := NewDiscoverer(cat2, nil, WithWorkers(4), WithClock(func() time.Time { return now })).
		FindOverlapping(context.Background(), w, true)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	if cat2.maxSeen > 4 {
		t.Errorf("parallel discovery exceeded worker limit: %d", cat2.maxSeen)
	}
	if cat2.calls != 25 {
		t.Errorf("expected 25 deployment calls, got %d", cat2.calls)
	}

	if len(seq.Matched) != 24 || len(par.Matched) != 24 {
		t.Fatalf("expected 24 matches each, got %d and %d", len(seq.Matched), len(par.Matched))
	}
	for i := range seq.Matched {
		if seq.Matched[i].DeviceCode != par.Matched[i].DeviceCode {
			t.Errorf("result %d differs: %s vs %s", i, seq.Matched[i].DeviceCode, par.Matched[i].DeviceCode)
		}
		if seq.Matched[i].DeviceCode == "" {
			t.Errorf("device code not filled in for result %d", i)
		}
	}
}

func TestFindOverlappingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDiscoverer(newFakeCatalog(3), nil).FindOverlapping(ctx, window(t, "2023-06-01", "2023-06-02"), true)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

type fakeLister struct {
	files map[string][]models.ArchiveFileEntry
	errs  map[string]error
}

func (f *fakeLister) ListArchiveFiles(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchiveFileEntry, error) {
	if err := f.errs[filter.DeviceCode]; err != nil {
		return nil, err
	}
	return f.files[filter.DeviceCode], nil
}

func TestCheckArchiveAvailability(t *testing.T) {
	lister := &fakeLister{
		files: map[string][]models.ArchiveFileEntry{
			"A": {
				{Filename: "a.png", Extension: "png", SizeBytes: 100},
				{Filename: "a-small.png", Extension: "png", SizeBytes: 10},
				{Filename: "b.png", Extension: "png", SizeBytes: 50},
			},
		},
		errs: map[string]error{
			"B": &api.APIError{StatusCode: 404},
			"C": errors.New("network down"),
		},
	}
	deps := []models.Deployment{{DeviceCode: "A"}, {DeviceCode: "B"}, {DeviceCode: "C"}}

	got := NewDiscoverer(newFakeCatalog(0), nil).
		CheckArchiveAvailability(context.Background(), lister, deps, window(t, "2023-06-01", "2023-06-02"), "png")

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if !got[0].HasFiles() || got[0].FileCount != 2 || got[0].TotalBytes != 150 {
		t.Errorf("unexpected result for A: %+v", got[0])
	}
	if got[1].HasFiles() || got[1].Err != nil {
		t.Errorf("404 should mean no files without error: %+v", got[1])
	}
	if got[2].Err == nil {
		t.Errorf("listing error should be recorded for C")
	}
}

func TestListProducts(t *testing.T) {
	products, err := NewDiscoverer(newFakeCatalog(0), nil).ListProducts(context.Background(), "X")
	if err != nil || len(products) != 1 {
		t.Fatalf("ListProducts = %v, %v", products, err)
	}
}

func TestForDevice(t *testing.T) {
	cat := newFakeCatalog(2)
	cat.deployments["ICLISTENHF0001"] = append(cat.deployments["ICLISTENHF0001"],
		models.RawDeployment{LocationCode: "OLD", Begin: "2019-01-01T00:00:00Z", End: "2019-06-01T00:00:00Z"})
	d := NewDiscoverer(cat, nil, WithClock(func() time.Time { return now }))

	res, err := d.ForDevice(context.Background(), "ICLISTENHF0001", window(t, "2023-06-01", "2023-06-02"))
	if err != nil {
		t.Fatalf("ForDevice: %v", err)
	}
	if len(res.Matched) != 1 || res.Matched[0].LocationCode != "LOC" {
		t.Fatalf("unexpected match: %+v", res.Matched)
	}
	if res.Matched[0].DeviceCode != "ICLISTENHF0001" {
		t.Errorf("device code not filled in: %q", res.Matched[0].DeviceCode)
	}

	_, err = d.ForDevice(context.Background(), "ICLISTENHF0001", window(t, "2010-01-01", "2010-01-02"))
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}

	cat.failing["ICLISTENHF0000"] = true
	if _, err := d.ForDevice(context.Background(), "ICLISTENHF0000", window(t, "2023-06-01", "2023-06-02")); err == nil {
		t.Error("expected error for failing device")
	}
}
