package geospatial

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

// Assigner maps points to the district regions that contain them. It is the
// only place stakeholder district references are derived.
type Assigner struct {
	regions RegionStore
	types   []geo.RegionType
}

// AssignerOption configures an Assigner.
type AssignerOption func(*Assigner)

// WithDistrictTypes limits which district types are computed. Untracked
// types are always written as nil.
func WithDistrictTypes(types ...geo.RegionType) AssignerOption {
	return func(a *Assigner) {
		a.types = nil
		for _, t := range types {
			if t.IsDistrict() {
				a.types = append(a.types, t)
			}
		}
	}
}

// NewAssigner creates an Assigner over regions.
func NewAssigner(regions RegionStore, opts ...AssignerOption) *Assigner {
	a := &Assigner{regions: regions, types: geo.DistrictTypes}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Types returns the district types this assigner computes.
func (a *Assigner) Types() []geo.RegionType { return a.types }

// FindDistrictForPoint returns the region of type t covering pt, or nil when
// none does. Overlapping regions of one type are a data defect: the lowest
// geoid wins and a warning names every candidate.
func (a *Assigner) FindDistrictForPoint(ctx context.Context, pt geo.Point, t geo.RegionType) (*Region, error) {
	matches, err := a.regions.Containing(ctx, pt, t)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: find %s for %s", t, pt)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		geoids := make([]string, len(matches))
		for i, m := range matches {
			geoids[i] = m.GEOID
		}
		zap.L().Warn("geo: point falls in multiple regions of one type",
			zap.String("region_type", string(t)),
			zap.Float64("lat", pt.Lat),
			zap.Float64("lng", pt.Lng),
			zap.Strings("geoids", geoids),
			zap.String("chosen", matches[0].GEOID),
		)
	}
	r := matches[0]
	return &r, nil
}

// Compute returns the district references for pt. A nil point yields an
// empty set.
func (a *Assigner) Compute(ctx context.Context, pt *geo.Point) (stakeholder.Districts, error) {
	var d stakeholder.Districts
	if pt == nil {
		return d, nil
	}
	for _, t := range a.types {
		r, err := a.FindDistrictForPoint(ctx, *pt, t)
		if err != nil {
			return stakeholder.Districts{}, err
		}
		if r != nil {
			id := r.ID
			d.Set(t, &id)
		}
	}
	return d, nil
}

// AssignDistricts recomputes s's districts from its location and persists
// them, clearing stale references. It reports whether anything changed.
func (a *Assigner) AssignDistricts(ctx context.Context, store stakeholder.Store, s *stakeholder.Stakeholder) (bool, error) {
	d, err := a.Compute(ctx, s.Location)
	if err != nil {
		return false, err
	}
	changed := !d.Equal(s.Districts)
	if err := store.SaveDistricts(ctx, s.ID, d); err != nil {
		return false, eris.Wrapf(err, "geo: assign districts %s", s.ID)
	}
	s.Districts = d
	return changed, nil
}
