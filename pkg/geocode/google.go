package geocode

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
	PartialMatch     bool   `json:"partial_match"`
}

// GoogleProvider geocodes with the Google Geocoding API. Selected as the
// public provider when geocode.public_provider is "google".
type GoogleProvider struct {
	httpBackend
	key string
}

// NewGoogleProvider creates a GoogleProvider for the given API key.
func NewGoogleProvider(key string, opts ...HTTPOption) *GoogleProvider {
	return &GoogleProvider{
		httpBackend: newHTTPBackend(SourceGoogle, googleGeocodeURL, 50, opts),
		key:         key,
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return SourceGoogle }

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if p.key == "" {
		return nil, eris.Wrap(ErrNotConfigured, "google: api key not set")
	}

	params := url.Values{
		"address":    {addr.OneLine()},
		"key":        {p.key},
		"components": {"country:US"},
	}

	var resp googleGeocodeResponse
	if r := p.getJSON(ctx, p.baseURL+"?"+params.Encode(), &resp); r != nil {
		return r, nil
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return noMatch(SourceGoogle), nil
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT", "UNKNOWN_ERROR":
		err := eris.Errorf("google: %s %s", resp.Status, resp.ErrorMessage)
		return transient(SourceGoogle, resilience.NewTransientError(err, 0)), nil
	case "REQUEST_DENIED":
		return nil, eris.Wrapf(ErrNotConfigured, "google: request denied: %s", resp.ErrorMessage)
	default:
		return rejected(SourceGoogle, eris.Errorf("google: %s %s", resp.Status, resp.ErrorMessage)), nil
	}

	if len(resp.Results) == 0 {
		return noMatch(SourceGoogle), nil
	}

	pts := make([]geo.Point, len(resp.Results))
	for i, res := range resp.Results {
		pts[i] = geo.Point{Lat: res.Geometry.Location.Lat, Lng: res.Geometry.Location.Lng}
	}
	if geo.Spread(pts) > p.ambiguityMeters {
		return ambiguous(SourceGoogle, len(pts)), nil
	}

	best := resp.Results[0]
	r := matched(SourceGoogle, pts[0], googleLocationTypeToQuality(best.Geometry.LocationType))
	if best.PartialMatch && r.Quality == QualityRooftop {
		r.Quality = QualityRange
	}
	r.MatchedAddress = best.FormattedAddress
	r.Candidates = len(pts)
	return r, nil
}

func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return QualityRooftop
	case "RANGE_INTERPOLATED":
		return QualityRange
	case "GEOMETRIC_CENTER":
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
