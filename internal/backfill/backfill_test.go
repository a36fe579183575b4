package backfill

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geocoding"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/resilience"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
	"github.com/sells-group/coalition-geo/pkg/geocode"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeProvider matches every street except those listed in misses.
type fakeProvider struct {
	name   string
	misses map[string]bool
	err    error
	calls  atomic.Int32
	hook   func()

	mu     sync.Mutex
	active int
	peak   int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Geocode(_ context.Context, in geocode.AddressInput) (*geocode.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.misses[in.Street] {
		return &geocode.Result{Status: geocode.StatusNoMatch, Source: f.name}, nil
	}
	time.Sleep(time.Millisecond)
	return &geocode.Result{
		Status:  geocode.StatusMatched,
		Source:  f.name,
		Quality: geocode.QualityRooftop,
		Point:   geo.Point{Lat: 38.8977, Lng: -77.0365},
	}, nil
}

func square(minLng, minLat, maxLng, maxLat float64) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(geo.SRID)
	_ = mp.Push(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat},
	}}))
	return mp
}

func dcRegions() *geospatial.MemoryRegionStore {
	return geospatial.NewMemoryRegionStore(
		geospatial.Region{GEOID: "1198", Name: "Delegate District (at Large)", Type: geo.Congressional, Geometry: square(-77.12, 38.79, -76.90, 39.0)},
	)
}

func person(n int, street, state string) stakeholder.Stakeholder {
	return stakeholder.Stakeholder{
		ID:      uuid.MustParse("00000000-0000-0000-0000-00000000000" + string(rune('0'+n))),
		Name:    "Member",
		Street:  street,
		City:    "Washington",
		State:   state,
		ZipCode: "20500",
	}
}

type fixture struct {
	store    *stakeholder.MemoryStore
	provider *fakeProvider
	runner   *Runner
	out      *bytes.Buffer
}

func newFixture(t *testing.T, seed ...stakeholder.Stakeholder) *fixture {
	t.Helper()
	store := stakeholder.NewMemoryStore(seed...)
	p := &fakeProvider{name: geocode.SourceTiger, misses: map[string]bool{"0 Nowhere St": true}}
	assigner := geospatial.NewAssigner(dcRegions())
	svc := geocoding.NewService(store, assigner, []geocode.Provider{p},
		geocoding.WithRetryPolicy(resilience.Policy{MaxAttempts: 1}))
	out := &bytes.Buffer{}
	return &fixture{store: store, provider: p, runner: NewRunner(store, svc, assigner, out), out: out}
}

func TestOptions_Filter(t *testing.T) {
	assert.Equal(t, []stakeholder.Status{stakeholder.StatusPending}, Options{}.Filter().Statuses)
	assert.Equal(t, []stakeholder.Status{stakeholder.StatusPending, stakeholder.StatusFailed},
		Options{RetryFailed: true}.Filter().Statuses)

	f := Options{Force: true, State: "DC", Limit: 5}.Filter()
	assert.Equal(t, []stakeholder.Status{stakeholder.StatusPending, stakeholder.StatusFailed, stakeholder.StatusGeocoded}, f.Statuses)
	assert.Equal(t, "DC", f.State)
	assert.Equal(t, 5, f.Limit)
}

func TestRun_ProcessesPending(t *testing.T) {
	fx := newFixture(t,
		person(1, "1600 Pennsylvania Avenue NW", "DC"),
		person(2, "0 Nowhere St", "DC"),
		person(3, "", "DC"),
	)
	ctx := context.Background()

	sum, err := fx.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 1, sum.Geocoded)
	assert.Equal(t, 1, sum.Failed)
	assert.Zero(t, sum.Skipped)
	assert.False(t, sum.Interrupted)
	assert.NotEqual(t, uuid.Nil, sum.RunID)

	lines := strings.Split(strings.TrimSpace(fx.out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "geocoded  00000000-0000-0000-0000-000000000001")
	assert.Contains(t, lines[0], "cd=1")
	assert.Contains(t, lines[1], "failed    00000000-0000-0000-0000-000000000002 tiger: no_match")
	assert.Contains(t, sum.String(), "2 candidates, 1 geocoded, 1 failed, 0 skipped")

	counts, err := fx.store.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[stakeholder.StatusGeocoded])
	assert.Equal(t, 1, counts[stakeholder.StatusFailed])
	assert.Equal(t, 1, counts[stakeholder.StatusUnattempted])

	// A second plain run has nothing left to do.
	sum, err = fx.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, sum.Candidates)
	assert.Equal(t, int32(2), fx.provider.calls.Load())

	id := uuid.New()
	sum, err = fx.runner.Run(ctx, Options{RunID: id})
	require.NoError(t, err)
	assert.Equal(t, id, sum.RunID)
}

func TestRun_RetryFailedAndForce(t *testing.T) {
	fx := newFixture(t,
		person(1, "1600 Pennsylvania Avenue NW", "DC"),
		person(2, "0 Nowhere St", "DC"),
	)
	ctx := context.Background()
	_, err := fx.runner.Run(ctx, Options{})
	require.NoError(t, err)

	sum, err := fx.runner.Run(ctx, Options{RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.Failed)

	delete(fx.provider.misses, "0 Nowhere St")
	sum, err = fx.runner.Run(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 2, sum.Geocoded)
}

func TestRun_StateFilterAndLimit(t *testing.T) {
	fx := newFixture(t,
		person(1, "1 First St", "DC"),
		person(2, "2 Second St", "MD"),
		person(3, "3 Third St", "DC"),
	)
	sum, err := fx.runner.Run(context.Background(), Options{State: "dc", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Candidates)
	assert.Equal(t, 1, sum.Geocoded)
	assert.Contains(t, fx.out.String(), "000000000001")
}

func TestRun_DryRunMakesNoCalls(t *testing.T) {
	fx := newFixture(t, person(1, "1600 Pennsylvania Avenue NW", "DC"))

	sum, err := fx.runner.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, KindDryRun, sum.Kind)
	assert.Equal(t, 1, sum.Candidates)
	assert.Zero(t, fx.provider.calls.Load())
	assert.Zero(t, fx.store.Writes)
	assert.Contains(t, fx.out.String(), "would geocode 00000000-0000-0000-0000-000000000001 [pending] 1600 Pennsylvania Avenue NW, Washington, DC 20500")
}

func TestRun_ConfigErrorAborts(t *testing.T) {
	fx := newFixture(t,
		person(1, "1 First St", "DC"),
		person(2, "2 Second St", "DC"),
	)
	fx.provider.err = geocode.ErrNotConfigured

	sum, err := fx.runner.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, geocode.ErrNotConfigured)
	assert.Equal(t, int32(1), fx.provider.calls.Load())
	assert.Zero(t, sum.Failed)
	assert.Zero(t, fx.store.Writes)
}

// vanishingStore loses one stakeholder between listing and saving, as when
// the row is deleted while a run is in flight.
type vanishingStore struct {
	*stakeholder.MemoryStore
	gone uuid.UUID
}

func (v vanishingStore) SaveGeocode(ctx context.Context, id uuid.UUID, u stakeholder.GeocodeUpdate) error {
	if id == v.gone {
		return eris.Wrapf(stakeholder.ErrNotFound, "id %s", id)
	}
	return v.MemoryStore.SaveGeocode(ctx, id, u)
}

func (v vanishingStore) SaveDistricts(ctx context.Context, id uuid.UUID, d stakeholder.Districts) error {
	if id == v.gone {
		return eris.Wrapf(stakeholder.ErrNotFound, "id %s", id)
	}
	return v.MemoryStore.SaveDistricts(ctx, id, d)
}

func TestRun_RecordWriteErrorDoesNotAbort(t *testing.T) {
	a := person(1, "1 First St", "DC")
	b := person(2, "2 Second St", "DC")
	c := person(3, "3 Third St", "DC")
	mem := stakeholder.NewMemoryStore(a, b, c)
	store := vanishingStore{MemoryStore: mem, gone: a.ID}
	p := &fakeProvider{name: geocode.SourceTiger}
	assigner := geospatial.NewAssigner(dcRegions())
	svc := geocoding.NewService(store, assigner, []geocode.Provider{p},
		geocoding.WithRetryPolicy(resilience.Policy{MaxAttempts: 1}))
	var out bytes.Buffer

	sum, err := NewRunner(store, svc, assigner, &out).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Candidates)
	assert.Equal(t, 2, sum.Geocoded)
	assert.Equal(t, 1, sum.Errored)
	assert.Equal(t, 3, sum.Processed())
	assert.Equal(t, int32(3), p.calls.Load())
	assert.Contains(t, out.String(), "error     00000000-0000-0000-0000-000000000001")
	assert.Contains(t, out.String(), "not found")
	assert.Contains(t, sum.String(), "2 geocoded, 0 failed, 0 skipped, 1 errored")

	got, err := mem.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, stakeholder.StatusGeocoded, got.Status())
}

func TestReassign_RecordWriteErrorDoesNotAbort(t *testing.T) {
	pt := geo.Point{Lat: 38.8977, Lng: -77.0365}
	a := person(1, "1 First St", "DC")
	a.Location = &pt
	b := person(2, "2 Second St", "DC")
	b.Location = &pt
	mem := stakeholder.NewMemoryStore(a, b)
	store := vanishingStore{MemoryStore: mem, gone: a.ID}
	assigner := geospatial.NewAssigner(dcRegions())
	var out bytes.Buffer

	sum, err := NewRunner(store, nil, assigner, &out).Reassign(context.Background(), ReassignOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Errored)
	assert.Equal(t, 1, sum.Updated)
	assert.Contains(t, out.String(), "error     00000000-0000-0000-0000-000000000001")
}

type brokenRegions struct{ geospatial.RegionStore }

func (brokenRegions) Containing(context.Context, geo.Point, geo.RegionType) ([]geospatial.Region, error) {
	return nil, errors.New("relation \"geo.regions\" does not exist")
}

func TestRun_RegionStoreErrorAborts(t *testing.T) {
	store := stakeholder.NewMemoryStore(person(1, "1 First St", "DC"), person(2, "2 Second St", "DC"))
	p := &fakeProvider{name: geocode.SourceTiger}
	assigner := geospatial.NewAssigner(brokenRegions{})
	svc := geocoding.NewService(store, assigner, []geocode.Provider{p},
		geocoding.WithRetryPolicy(resilience.Policy{MaxAttempts: 1}))

	sum, err := NewRunner(store, svc, assigner, nil).Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Zero(t, sum.Geocoded)
	assert.Zero(t, sum.Errored)
	assert.Zero(t, store.Writes)
}

func TestRun_CancelBetweenRecords(t *testing.T) {
	fx := newFixture(t,
		person(1, "1 First St", "DC"),
		person(2, "2 Second St", "DC"),
		person(3, "3 Third St", "DC"),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.provider.hook = cancel

	sum, err := fx.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, sum.Interrupted)
	// The in-flight record still completes and is persisted.
	assert.Equal(t, 1, sum.Geocoded)
	assert.Equal(t, int32(1), fx.provider.calls.Load())
	assert.Equal(t, 1, fx.store.Writes)
	assert.Contains(t, sum.String(), "interrupted after 1")
}

func TestRun_Concurrency(t *testing.T) {
	seed := make([]stakeholder.Stakeholder, 8)
	for i := range seed {
		seed[i] = person(i+1, "1 Main St", "DC")
	}
	fx := newFixture(t, seed...)

	sum, err := fx.runner.Run(context.Background(), Options{Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Geocoded)
	assert.LessOrEqual(t, fx.provider.peak, 3)
	assert.Len(t, strings.Split(strings.TrimSpace(fx.out.String()), "\n"), 8)
}

func TestRun_DelayPacesCalls(t *testing.T) {
	fx := newFixture(t,
		person(1, "1 First St", "DC"),
		person(2, "2 Second St", "DC"),
		person(3, "3 Third St", "DC"),
	)
	start := time.Now()
	sum, err := fx.runner.Run(context.Background(), Options{Delay: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Geocoded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

type brokenStore struct{ stakeholder.Store }

func (brokenStore) List(context.Context, stakeholder.Filter) ([]stakeholder.Stakeholder, error) {
	return nil, errors.New("connection refused")
}

func TestRun_ListError(t *testing.T) {
	r := NewRunner(brokenStore{}, nil, nil, nil)
	_, err := r.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill: list candidates")

	_, err = r.Reassign(context.Background(), ReassignOptions{})
	assert.Error(t, err)
}

func TestReassign(t *testing.T) {
	cd := int64(99)
	pt := geo.Point{Lat: 38.8977, Lng: -77.0365}
	stale := person(1, "1 First St", "DC")
	stale.Location = &pt
	stale.Districts.Congressional = &cd
	current := person(2, "2 Second St", "DC")
	current.Location = &pt
	one := int64(1)
	current.Districts.Congressional = &one
	pending := person(3, "3 Third St", "DC")

	fx := newFixture(t, stale, current, pending)
	ctx := context.Background()

	sum, err := fx.runner.Reassign(ctx, ReassignOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Candidates)
	assert.Equal(t, 1, sum.Updated)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Zero(t, fx.provider.calls.Load())
	assert.Contains(t, fx.out.String(), "updated   00000000-0000-0000-0000-000000000001 cd=1 upper=- lower=-")
	assert.Contains(t, sum.String(), "1 updated, 1 unchanged")

	got, err := fx.store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), *got.Districts.Congressional)
}

func TestFormatOutcome(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000007")
	assert.Equal(t, "skipped   00000000-0000-0000-0000-000000000007 already geocoded",
		FormatOutcome(&geocoding.Outcome{StakeholderID: id, Status: geocoding.OutcomeSkipped, Reason: "already geocoded"}))
	assert.Equal(t, "failed    00000000-0000-0000-0000-000000000007 tiger: no_match (kept prior location)",
		FormatOutcome(&geocoding.Outcome{StakeholderID: id, Status: geocoding.OutcomeFailed, Reason: "tiger: no_match", Preserved: true}))
	assert.Equal(t, "error     00000000-0000-0000-0000-000000000007 stakeholder: not found",
		FormatOutcome(&geocoding.Outcome{StakeholderID: id, Status: geocoding.OutcomeErrored, Reason: "stakeholder: not found"}))
}
