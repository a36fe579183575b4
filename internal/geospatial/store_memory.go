package geospatial

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// MemoryRegionStore holds regions and their polygons in process. It backs
// offline shapefile lookups and tests.
type MemoryRegionStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   []memRegion
}

type memRegion struct {
	Region
	bounds *geom.Bounds
}

// NewMemoryRegionStore returns a store preloaded with regions.
func NewMemoryRegionStore(regions ...Region) *MemoryRegionStore {
	m := &MemoryRegionStore{}
	for _, r := range regions {
		m.put(r)
	}
	return m
}

// put assigns an id when missing and replaces any row with the same
// (type, geoid). Callers hold mu.
func (m *MemoryRegionStore) put(r Region) {
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	} else if r.ID > m.nextID {
		m.nextID = r.ID
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	row := memRegion{Region: r}
	if r.Geometry != nil {
		row.bounds = r.Geometry.Bounds()
	}
	for i, existing := range m.rows {
		if existing.Type == r.Type && existing.GEOID == r.GEOID {
			row.ID = existing.ID
			m.rows[i] = row
			return
		}
	}
	m.rows = append(m.rows, row)
}

// Containing implements RegionStore.
func (m *MemoryRegionStore) Containing(_ context.Context, pt geo.Point, t geo.RegionType) ([]Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := pt.Coord()
	var out []Region
	for _, r := range m.rows {
		if r.Type != t || r.Geometry == nil {
			continue
		}
		if !r.bounds.OverlapsPoint(geom.XY, c) {
			continue
		}
		if covers(r.Geometry, c) {
			out = append(out, r.Region)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GEOID != out[j].GEOID {
			return out[i].GEOID < out[j].GEOID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// covers reports whether c lies inside or on the boundary of mp. Points
// strictly inside a hole are outside; points on a hole's ring are covered.
func covers(mp *geom.MultiPolygon, c geom.Coord) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		if polygonCovers(mp.Polygon(i), c) {
			return true
		}
	}
	return false
}

func polygonCovers(p *geom.Polygon, c geom.Coord) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	shell := xy.LocatePointInRing(p.Layout(), c, p.LinearRing(0).FlatCoords())
	if shell == location.Exterior {
		return false
	}
	if shell == location.Boundary {
		return true
	}
	for j := 1; j < p.NumLinearRings(); j++ {
		if xy.LocatePointInRing(p.Layout(), c, p.LinearRing(j).FlatCoords()) == location.Interior {
			return false
		}
	}
	return true
}

// ByIDs implements RegionStore.
func (m *MemoryRegionStore) ByIDs(_ context.Context, ids []int64) (map[int64]Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[int64]Region, len(ids))
	for _, r := range m.rows {
		if want[r.ID] {
			out[r.ID] = r.Region
		}
	}
	return out, nil
}

// Upsert implements RegionStore.
func (m *MemoryRegionStore) Upsert(_ context.Context, regions []Region) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range regions {
		if r.Geometry == nil {
			return 0, eris.Errorf("geo: region %s/%s has no geometry", r.Type, r.GEOID)
		}
		m.put(r)
	}
	return int64(len(regions)), nil
}

// Replace implements RegionStore.
func (m *MemoryRegionStore) Replace(_ context.Context, t geo.RegionType, stateFIPS string, regions []Region) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.Type == t && (stateFIPS == "" || r.StateFIPS == stateFIPS) {
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	for _, r := range regions {
		r.ID = 0
		m.put(r)
	}
	return int64(len(regions)), nil
}

// Counts implements RegionStore.
func (m *MemoryRegionStore) Counts(_ context.Context) (map[geo.RegionType]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[geo.RegionType]int)
	for _, r := range m.rows {
		out[r.Type]++
	}
	return out, nil
}

var _ RegionStore = (*MemoryRegionStore)(nil)
