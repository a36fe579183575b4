package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coalition-geo/internal/resilience"
)

const censusOneMatch = `{
	"result": {
		"addressMatches": [{
			"coordinates": {"x": -77.0365, "y": 38.8977},
			"matchedAddress": "1600 PENNSYLVANIA AVE NW, WASHINGTON, DC, 20500"
		}]
	}
}`

func TestCensusProvider_Match(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, censusOneMatch)
	}))
	defer srv.Close()

	p := NewCensusProvider("", WithHTTPClient(newRewriteClient(srv.URL, censusOneLineURL)), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.True(t, r.Matched())
	assert.Equal(t, SourceCensus, r.Source)
	assert.Equal(t, QualityRooftop, r.Quality)
	assert.InDelta(t, 38.8977, r.Point.Lat, 1e-6)
	assert.InDelta(t, -77.0365, r.Point.Lng, 1e-6)
	assert.Equal(t, "1600 PENNSYLVANIA AVE NW, WASHINGTON, DC, 20500", r.MatchedAddress)
	assert.Contains(t, gotQuery, "benchmark=Public_AR_Current")
	assert.Contains(t, gotQuery, "format=json")
}

func TestCensusProvider_NoMatch(t *testing.T) {
	srv, _ := cannedServer(t, http.StatusOK, `{"result": {"addressMatches": []}}`)

	p := NewCensusProvider("", WithBaseURL(srv.URL), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusNoMatch, r.Status)
}

func TestCensusProvider_Ambiguous(t *testing.T) {
	srv, _ := cannedServer(t, http.StatusOK, `{"result": {"addressMatches": [
		{"coordinates": {"x": -77.03, "y": 38.90}, "matchedAddress": "A"},
		{"coordinates": {"x": -89.65, "y": 39.78}, "matchedAddress": "B"}
	]}}`)

	p := NewCensusProvider("", WithBaseURL(srv.URL), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), AddressInput{Street: "100 Main St", City: "Springfield"})
	require.NoError(t, err)
	assert.Equal(t, StatusAmbiguous, r.Status)
	assert.Equal(t, 2, r.Candidates)
}

func TestCensusProvider_NearbyCandidatesMatch(t *testing.T) {
	srv, _ := cannedServer(t, http.StatusOK, `{"result": {"addressMatches": [
		{"coordinates": {"x": -77.0300, "y": 38.9000}, "matchedAddress": "A"},
		{"coordinates": {"x": -77.0301, "y": 38.9001}, "matchedAddress": "B"}
	]}}`)

	p := NewCensusProvider("", WithBaseURL(srv.URL), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.True(t, r.Matched())
	assert.Equal(t, QualityRange, r.Quality)
	assert.Equal(t, "A", r.MatchedAddress)
}

func TestCensusProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Status
	}{
		{http.StatusServiceUnavailable, StatusTransient},
		{http.StatusTooManyRequests, StatusTransient},
		{http.StatusGatewayTimeout, StatusTransient},
		{http.StatusBadRequest, StatusRejected},
		{http.StatusNotFound, StatusRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := cannedServer(t, tt.status, `{"errors": ["nope"]}`)
			p := NewCensusProvider("", WithBaseURL(srv.URL), WithRateLimit(0))
			r, err := p.Geocode(context.Background(), dcAddress)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Status)
			require.Error(t, r.Err)
			assert.Equal(t, tt.want == StatusTransient, resilience.IsTransient(r.Err))
		})
	}
}

func TestCensusProvider_BadJSONIsTransient(t *testing.T) {
	srv, _ := cannedServer(t, http.StatusOK, `<html>busy</html>`)
	p := NewCensusProvider("", WithBaseURL(srv.URL), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusTransient, r.Status)
}

func TestCensusProvider_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewCensusProvider("", WithBaseURL(url), WithRateLimit(0))
	r, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.Equal(t, StatusTransient, r.Status)
	assert.True(t, resilience.IsTransient(r.Err))
}

func TestCensusProvider_CustomBenchmark(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, censusOneMatch)
	}))
	defer srv.Close()

	p := NewCensusProvider("Public_AR_Census2020", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := p.Geocode(context.Background(), dcAddress)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "benchmark=Public_AR_Census2020")
}
