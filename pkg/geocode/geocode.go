// Package geocode resolves validated mailing addresses to coordinates. Two
// kinds of backend are supported: the local PostGIS TIGER geocoder and a
// public HTTP service (Census or Google).
package geocode

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// ErrNotConfigured signals a provider that cannot work at all: missing
// credentials, denied keys, or a database without the geocoder installed.
// It is the only error a Provider returns; everything else is a Result.
var ErrNotConfigured = eris.New("geocode: provider not configured")

// Provider names.
const (
	SourceTiger  = "tiger"
	SourceCensus = "census"
	SourceGoogle = "google"
)

// Quality labels, best first.
const (
	QualityRooftop     = "rooftop"
	QualityRange       = "range"
	QualityCentroid    = "centroid"
	QualityApproximate = "approximate"
)

// Provider is a single geocoding backend.
type Provider interface {
	Name() string
	// Geocode returns a Result for every outcome the provider can observe.
	// A non-nil error means the provider is unusable (ErrNotConfigured).
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput is the address handed to a provider.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

// OneLine joins the non-empty parts with ", ".
func (a AddressInput) OneLine() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Status is the outcome of one provider call.
type Status string

// Provider outcomes.
const (
	StatusMatched   Status = "matched"
	StatusNoMatch   Status = "no_match"
	StatusAmbiguous Status = "ambiguous"
	StatusRejected  Status = "rejected"
	StatusTransient Status = "transient"
)

// Permanent reports whether retrying the same provider is pointless.
func (s Status) Permanent() bool {
	return s == StatusNoMatch || s == StatusAmbiguous || s == StatusRejected
}

// Result is what a provider observed for one address.
type Result struct {
	Status         Status
	Point          geo.Point
	Source         string
	Quality        string
	Rating         int
	MatchedAddress string
	CountyFIPS     string
	Candidates     int
	Cached         bool

	// Err carries the cause for transient and rejected outcomes.
	Err error
}

// Matched reports whether the result carries a usable coordinate.
func (r *Result) Matched() bool {
	return r != nil && r.Status == StatusMatched
}

func matched(source string, pt geo.Point, quality string) *Result {
	return &Result{Status: StatusMatched, Point: pt, Source: source, Quality: quality, Candidates: 1}
}

func noMatch(source string) *Result {
	return &Result{Status: StatusNoMatch, Source: source}
}

func ambiguous(source string, candidates int) *Result {
	return &Result{Status: StatusAmbiguous, Source: source, Candidates: candidates}
}

func rejected(source string, err error) *Result {
	return &Result{Status: StatusRejected, Source: source, Err: err}
}

func transient(source string, err error) *Result {
	return &Result{Status: StatusTransient, Source: source, Err: err}
}

// DefaultAmbiguityMeters is the candidate spread above which equally ranked
// matches are treated as ambiguous.
const DefaultAmbiguityMeters = 1000.0
