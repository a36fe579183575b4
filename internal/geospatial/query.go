package geospatial

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

// DefaultNearLimit caps radius searches when no limit is given.
const DefaultNearLimit = 100

// DistrictGroup is the set of stakeholders assigned to one district.
type DistrictGroup struct {
	RegionID     int64                     `json:"region_id"`
	GEOID        string                    `json:"geoid"`
	Name         string                    `json:"name"`
	Label        string                    `json:"label,omitempty"`
	Stakeholders []stakeholder.Stakeholder `json:"stakeholders"`
}

// FindStakeholdersNearPoint returns geocoded stakeholders within meters of
// pt, closest first.
func FindStakeholdersNearPoint(ctx context.Context, store stakeholder.Store, pt geo.Point, meters float64, limit int) ([]stakeholder.Nearby, error) {
	if err := pt.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		return nil, eris.Errorf("geo: radius must be positive, got %v", meters)
	}
	if limit <= 0 {
		limit = DefaultNearLimit
	}
	out, err := store.Near(ctx, pt, meters, limit)
	if err != nil {
		return nil, eris.Wrap(err, "geo: stakeholders near point")
	}
	return out, nil
}

// GetStakeholdersByDistrict groups stakeholders by their assigned district
// of type t, optionally limited to one state. Groups come back in the order
// of their first stakeholder, which follows the district id.
func GetStakeholdersByDistrict(ctx context.Context, store stakeholder.Store, regions RegionStore, t geo.RegionType, state string) ([]DistrictGroup, error) {
	if !t.IsDistrict() {
		return nil, eris.Errorf("geo: %s is not a district type", t)
	}
	members, err := store.WithDistrict(ctx, t, state)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: stakeholders by %s", t)
	}

	var (
		groups []DistrictGroup
		index  = make(map[int64]int)
		ids    []int64
	)
	for _, s := range members {
		id := *s.Districts.Get(t)
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, DistrictGroup{RegionID: id})
			ids = append(ids, id)
		}
		groups[i].Stakeholders = append(groups[i].Stakeholders, s)
	}

	meta, err := regions.ByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "geo: district metadata")
	}
	for i := range groups {
		if r, ok := meta[groups[i].RegionID]; ok {
			groups[i].GEOID = r.GEOID
			groups[i].Name = r.Name
			groups[i].Label = r.Label
		}
	}
	return groups, nil
}
