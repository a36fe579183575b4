// Package stakeholder models coalition stakeholders and persists the
// geocoding state the address pipeline owns: location, failure flag,
// provenance and cached district references.
package stakeholder

import (
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
)

// Status is the geocoding lifecycle state. It is derived, never stored.
type Status string

// Lifecycle states.
const (
	StatusUnattempted Status = "unattempted"
	StatusPending     Status = "pending"
	StatusGeocoded    Status = "geocoded"
	StatusFailed      Status = "failed"
)

// Statuses lists every state in display order.
var Statuses = []Status{StatusUnattempted, StatusPending, StatusGeocoded, StatusFailed}

// Stakeholder is a person or organization with a mailing address.
type Stakeholder struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Street  string    `json:"street,omitempty"`
	City    string    `json:"city,omitempty"`
	State   string    `json:"state,omitempty"`
	ZipCode string    `json:"zip_code,omitempty"`
	County  string    `json:"county,omitempty"`

	Location        *geo.Point `json:"location,omitempty"`
	GeocodingFailed bool       `json:"geocoding_failed"`
	GeocodeSource   string     `json:"geocode_source,omitempty"`
	GeocodeQuality  string     `json:"geocode_quality,omitempty"`
	GeocodedAt      *time.Time `json:"geocoded_at,omitempty"`

	Districts Districts `json:"districts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate runs the full address check on the stakeholder's fields.
func (s *Stakeholder) Validate() (*address.Address, error) {
	return address.ValidateComplete(s.Street, s.City, s.State, s.ZipCode)
}

// Status derives the lifecycle state.
func (s *Stakeholder) Status() Status {
	switch {
	case s.Location != nil:
		return StatusGeocoded
	case s.GeocodingFailed:
		return StatusFailed
	}
	if _, err := s.Validate(); err != nil {
		return StatusUnattempted
	}
	return StatusPending
}

// Districts caches the region ids containing a stakeholder's location.
// A nil field means no region of that type contains the point.
type Districts struct {
	Congressional *int64 `json:"congressional_district_id"`
	StateUpper    *int64 `json:"state_upper_district_id"`
	StateLower    *int64 `json:"state_lower_district_id"`
}

// Get returns the reference for t. Unknown types return nil.
func (d Districts) Get(t geo.RegionType) *int64 {
	switch t {
	case geo.Congressional:
		return d.Congressional
	case geo.StateUpper:
		return d.StateUpper
	case geo.StateLower:
		return d.StateLower
	}
	return nil
}

// Set stores id as the reference for t. Non-district types are ignored.
func (d *Districts) Set(t geo.RegionType, id *int64) {
	switch t {
	case geo.Congressional:
		d.Congressional = id
	case geo.StateUpper:
		d.StateUpper = id
	case geo.StateLower:
		d.StateLower = id
	}
}

// Equal compares by value.
func (d Districts) Equal(o Districts) bool {
	return eqID(d.Congressional, o.Congressional) &&
		eqID(d.StateUpper, o.StateUpper) &&
		eqID(d.StateLower, o.StateLower)
}

// IsZero reports whether every reference is nil.
func (d Districts) IsZero() bool {
	return d.Congressional == nil && d.StateUpper == nil && d.StateLower == nil
}

func eqID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// GeocodeUpdate is written in a single statement so a stakeholder is never
// observed with a location but stale districts.
type GeocodeUpdate struct {
	Location  *geo.Point
	Failed    bool
	Source    string
	Quality   string
	At        *time.Time
	Districts Districts
}

// Apply copies the update onto s, mirroring what the store persists.
func (u GeocodeUpdate) Apply(s *Stakeholder) {
	s.Location = u.Location
	s.GeocodingFailed = u.Failed
	s.GeocodeSource = u.Source
	s.GeocodeQuality = u.Quality
	s.GeocodedAt = u.At
	s.Districts = u.Districts
}

// Nearby pairs a stakeholder with its distance from a query point.
type Nearby struct {
	Stakeholder
	DistanceMeters float64 `json:"distance_meters"`
}
