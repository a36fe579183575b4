package geocode

import (
	"context"
	"net/url"

	"github.com/sells-group/coalition-geo/internal/geo"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
)

type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// CensusProvider geocodes with the Census Bureau one-line address API. It
// needs no credentials and is the default public fallback.
type CensusProvider struct {
	httpBackend
	benchmark string
}

// NewCensusProvider creates a CensusProvider. benchmark defaults to
// Public_AR_Current.
func NewCensusProvider(benchmark string, opts ...HTTPOption) *CensusProvider {
	if benchmark == "" {
		benchmark = censusBenchmark
	}
	return &CensusProvider{
		httpBackend: newHTTPBackend(SourceCensus, censusOneLineURL, 10, opts),
		benchmark:   benchmark,
	}
}

// Name implements Provider.
func (p *CensusProvider) Name() string { return SourceCensus }

// Geocode implements Provider.
func (p *CensusProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	params := url.Values{
		"address":   {addr.OneLine()},
		"benchmark": {p.benchmark},
		"format":    {"json"},
	}

	var resp censusOneLineResponse
	if r := p.getJSON(ctx, p.baseURL+"?"+params.Encode(), &resp); r != nil {
		return r, nil
	}

	matches := resp.Result.AddressMatches
	if len(matches) == 0 {
		return noMatch(SourceCensus), nil
	}

	pts := make([]geo.Point, len(matches))
	for i, m := range matches {
		pts[i] = geo.Point{Lat: m.Coordinates.Y, Lng: m.Coordinates.X}
	}
	if geo.Spread(pts) > p.ambiguityMeters {
		return ambiguous(SourceCensus, len(matches)), nil
	}

	r := matched(SourceCensus, pts[0], QualityRange)
	if len(matches) == 1 {
		r.Quality = QualityRooftop
	}
	r.MatchedAddress = matches[0].MatchedAddress
	r.Candidates = len(matches)
	return r, nil
}
