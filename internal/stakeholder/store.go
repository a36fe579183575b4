package stakeholder

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// ErrNotFound is returned when a stakeholder id does not exist.
var ErrNotFound = eris.New("stakeholder: not found")

// Filter selects stakeholders for batch work.
type Filter struct {
	// State restricts to one two-letter state code.
	State string
	// Statuses restricts to the given lifecycle states. Empty means all.
	Statuses []Status
	// Limit caps the result size. Zero means no cap.
	Limit int
}

func (f Filter) wants(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, w := range f.Statuses {
		if w == s {
			return true
		}
	}
	return false
}

// Store persists stakeholders. Only the geocoding pipeline calls
// SaveGeocode and SaveDistricts.
type Store interface {
	Create(ctx context.Context, s *Stakeholder) error
	Get(ctx context.Context, id uuid.UUID) (*Stakeholder, error)
	// List returns matches ordered by id.
	List(ctx context.Context, f Filter) ([]Stakeholder, error)
	SaveGeocode(ctx context.Context, id uuid.UUID, u GeocodeUpdate) error
	SaveDistricts(ctx context.Context, id uuid.UUID, d Districts) error
	// Near returns geocoded stakeholders within meters of pt, closest first.
	Near(ctx context.Context, pt geo.Point, meters float64, limit int) ([]Nearby, error)
	// WithDistrict returns stakeholders holding a reference of type t,
	// ordered by that reference then id.
	WithDistrict(ctx context.Context, t geo.RegionType, state string) ([]Stakeholder, error)
	CountByStatus(ctx context.Context, state string) (map[Status]int, error)
}
