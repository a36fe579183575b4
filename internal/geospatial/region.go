// Package geospatial stores region polygons and answers the point-in-region
// and proximity questions the geocoding pipeline asks of them.
package geospatial

import (
	"context"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// Region is one polygon from a government boundary file.
type Region struct {
	ID        int64          `json:"id"`
	GEOID     string         `json:"geoid"`
	Name      string         `json:"name"`
	Label     string         `json:"label,omitempty"`
	Type      geo.RegionType `json:"region_type"`
	StateFIPS string         `json:"state_fips,omitempty"`
	MTFCC     string         `json:"mtfcc,omitempty"`
	Centroid  geo.Point      `json:"centroid"`
	CreatedAt time.Time      `json:"created_at"`

	// Geometry is only populated on import and by the in-memory store.
	Geometry *geom.MultiPolygon `json:"-"`
}

// RegionStore looks up and loads regions.
type RegionStore interface {
	// Containing returns every region of type t covering pt, boundary
	// inclusive, ordered by (geoid, id).
	Containing(ctx context.Context, pt geo.Point, t geo.RegionType) ([]Region, error)

	// ByIDs returns the regions with the given ids, keyed by id.
	ByIDs(ctx context.Context, ids []int64) (map[int64]Region, error)

	// Upsert inserts or updates regions by (region_type, geoid).
	Upsert(ctx context.Context, regions []Region) (int64, error)

	// Replace swaps out every region of type t (optionally limited to one
	// state) for regions.
	Replace(ctx context.Context, t geo.RegionType, stateFIPS string, regions []Region) (int64, error)

	// Counts returns the number of stored regions per type.
	Counts(ctx context.Context) (map[geo.RegionType]int, error)
}
