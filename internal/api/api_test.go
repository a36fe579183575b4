package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
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

var (
	whiteHouseID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	capitolID    = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	whiteHouse   = geo.Point{Lat: 38.8977, Lng: -77.0365}
	capitol      = geo.Point{Lat: 38.8899, Lng: -77.0091}
)

type stubProvider struct {
	result *geocode.Result
	err    error
}

func (stubProvider) Name() string { return geocode.SourceTiger }

func (p stubProvider) Geocode(context.Context, geocode.AddressInput) (*geocode.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	r := *p.result
	return &r, nil
}

func square(minLng, minLat, maxLng, maxLat float64) *geom.MultiPolygon {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(geo.SRID)
	_ = mp.Push(geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minLng, minLat}, {maxLng, minLat}, {maxLng, maxLat}, {minLng, maxLat}, {minLng, minLat},
	}}))
	return mp
}

type fixture struct {
	store   *stakeholder.MemoryStore
	handler http.Handler
}

func newFixture(t *testing.T, p geocode.Provider) *fixture {
	t.Helper()
	cd := int64(1)
	store := stakeholder.NewMemoryStore(
		stakeholder.Stakeholder{
			ID: whiteHouseID, Name: "White House",
			Street: "1600 Pennsylvania Avenue NW", City: "Washington", State: "DC", ZipCode: "20500",
		},
		stakeholder.Stakeholder{
			ID: capitolID, Name: "Capitol",
			Street: "First St SE", City: "Washington", State: "DC", ZipCode: "20004",
			Location: &capitol, Districts: stakeholder.Districts{Congressional: &cd},
		},
	)
	regions := geospatial.NewMemoryRegionStore(geospatial.Region{
		GEOID: "1198", Name: "Delegate District (at Large)", Label: "DC-AL",
		Type: geo.Congressional, Geometry: square(-77.12, 38.79, -76.90, 39.0),
	})
	svc := geocoding.NewService(store, geospatial.NewAssigner(regions), []geocode.Provider{p},
		geocoding.WithRetryPolicy(resilience.Policy{MaxAttempts: 1}))
	return &fixture{store: store, handler: NewServer(svc, store, regions).Routes(nil)}
}

func matchProvider() stubProvider {
	return stubProvider{result: &geocode.Result{
		Status: geocode.StatusMatched, Source: geocode.SourceTiger, Quality: geocode.QualityRooftop, Point: whiteHouse,
	}}
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	rec, body := newFixture(t, matchProvider()).do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, []any{"tiger"}, body["providers"])
}

func TestValidateAddress(t *testing.T) {
	f := newFixture(t, matchProvider())

	rec, body := f.do(t, http.MethodPost, "/v1/addresses/validate",
		`{"street":" 1600 Pennsylvania Avenue NW ","city":"washington","state":"dc","zip_code":"20500"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Washington", body["city"])
	assert.Equal(t, "DC", body["state"])
	assert.Equal(t, "1600 Pennsylvania Avenue NW", body["street"])

	rec, body = f.do(t, http.MethodPost, "/v1/addresses/validate", `{"street":"","city":"x","state":"ZZ","zip_code":"123"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "incomplete address", body["error"])
	fields := body["fields"].([]any)
	require.Len(t, fields, 3)
	assert.Equal(t, "street", fields[0].(map[string]any)["field"])
	assert.Equal(t, "state", fields[1].(map[string]any)["field"])
	assert.Equal(t, "invalid zip code", fields[2].(map[string]any)["message"])

	rec, _ = f.do(t, http.MethodPost, "/v1/addresses/validate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGeocode(t *testing.T) {
	f := newFixture(t, matchProvider())

	rec, body := f.do(t, http.MethodPost, "/v1/stakeholders/"+whiteHouseID.String()+"/geocode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "geocoded", body["status"])
	assert.Equal(t, "tiger", body["source"])
	districts := body["districts"].(map[string]any)
	assert.InDelta(t, 1, districts["congressional_district_id"], 0)

	got, err := f.store.Get(context.Background(), whiteHouseID)
	require.NoError(t, err)
	assert.Equal(t, stakeholder.StatusGeocoded, got.Status())

	// Already geocoded without force is a skip.
	_, body = f.do(t, http.MethodPost, "/v1/stakeholders/"+whiteHouseID.String()+"/geocode", "")
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "skipped", body["status"])

	_, body = f.do(t, http.MethodPost, "/v1/stakeholders/"+whiteHouseID.String()+"/geocode?force=true", "")
	assert.Equal(t, "geocoded", body["status"])
}

func TestGeocode_Errors(t *testing.T) {
	f := newFixture(t, matchProvider())

	rec, _ := f.do(t, http.MethodPost, "/v1/stakeholders/not-a-uuid/geocode", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/v1/stakeholders/"+uuid.NewString()+"/geocode", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := newFixture(t, stubProvider{err: geocode.ErrNotConfigured})
	rec, body := broken.do(t, http.MethodPost, "/v1/stakeholders/"+whiteHouseID.String()+"/geocode", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "geocoding is not configured", body["error"])
}

func TestGeocode_NoMatchMarksFailed(t *testing.T) {
	f := newFixture(t, stubProvider{result: &geocode.Result{Status: geocode.StatusNoMatch}})

	rec, body := f.do(t, http.MethodPost, "/v1/stakeholders/"+whiteHouseID.String()+"/geocode", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "failed", body["status"])

	got, _ := f.store.Get(context.Background(), whiteHouseID)
	assert.Equal(t, stakeholder.StatusFailed, got.Status())
}

func TestNear(t *testing.T) {
	f := newFixture(t, matchProvider())

	rec, body := f.do(t, http.MethodGet, "/v1/stakeholders/near?lat=38.8899&lng=-77.0091&meters=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 1, body["count"], 0)
	rows := body["stakeholders"].([]any)
	assert.Equal(t, "Capitol", rows[0].(map[string]any)["name"])

	_, body = f.do(t, http.MethodGet, "/v1/stakeholders/near?lat=0&lng=0&meters=10", "")
	assert.Equal(t, []any{}, body["stakeholders"])

	for _, q := range []string{
		"lat=abc&lng=1&meters=10",
		"lat=1&lng=1",
		"lat=1&lng=1&meters=-5",
		"lat=1&lng=1&meters=NaN",
		"lat=1&lng=1&meters=Inf",
		"lat=1&lng=1&meters=-Inf",
		"lat=1&lng=1&meters=5&limit=0",
		"lat=95&lng=1&meters=5",
	} {
		rec, _ := f.do(t, http.MethodGet, "/v1/stakeholders/near?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDistrictStakeholders(t *testing.T) {
	f := newFixture(t, matchProvider())

	rec, body := f.do(t, http.MethodGet, "/v1/districts/congressional/stakeholders?state=DC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "congressional", body["type"])
	groups := body["districts"].([]any)
	require.Len(t, groups, 1)
	g := groups[0].(map[string]any)
	assert.Equal(t, "1198", g["geoid"])
	assert.Equal(t, "DC-AL", g["label"])
	assert.Len(t, g["stakeholders"], 1)

	_, body = f.do(t, http.MethodGet, "/v1/districts/state_upper/stakeholders", "")
	assert.Equal(t, []any{}, body["districts"])

	rec, _ = f.do(t, http.MethodGet, "/v1/districts/county/stakeholders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, matchProvider())
	req := httptest.NewRequest(http.MethodOptions, "/v1/addresses/validate", nil)
	req.Header.Set("Origin", "https://coalition.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
