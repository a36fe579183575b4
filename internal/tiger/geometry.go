package tiger

import (
	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/geo"
)

// polygonToMultiPolygon converts a shapefile polygon into a MultiPolygon.
// Shapefiles store outer rings clockwise and holes counter-clockwise; each
// hole is attached to the first preceding shell that contains it.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var shells [][][]float64
	for _, ring := range rings(p) {
		if len(ring) < 8 {
			zap.L().Debug("tiger: skipping degenerate ring", zap.Int("coords", len(ring)/2))
			continue
		}
		if !xy.IsRingCounterClockwise(geom.XY, ring) || len(shells) == 0 {
			shells = append(shells, [][]float64{ring})
			continue
		}
		owner := len(shells) - 1
		first := geom.Coord{ring[0], ring[1]}
		for i, s := range shells {
			if xy.IsPointInRing(geom.XY, first, s[0]) {
				owner = i
				break
			}
		}
		shells[owner] = append(shells[owner], ring)
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(geo.SRID)
	for i, s := range shells {
		poly := geom.NewPolygon(geom.XY)
		for _, ring := range s {
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, ring)); err != nil {
				zap.L().Debug("tiger: skipping malformed ring", zap.Int("polygon", i), zap.Error(err))
			}
		}
		if poly.NumLinearRings() == 0 {
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("tiger: skipping malformed polygon part", zap.Int("polygon", i), zap.Error(err))
		}
	}
	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// rings splits the polygon's point list into flat coordinate rings.
func rings(p *shp.Polygon) [][]float64 {
	out := make([][]float64, 0, p.NumParts)
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(p.Points)) {
			continue
		}
		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		out = append(out, flat)
	}
	return out
}

// boundsCenter is the centroid fallback when a record has no interior point.
func boundsCenter(mp *geom.MultiPolygon) geo.Point {
	b := mp.Bounds()
	return geo.Point{
		Lat: (b.Min(1) + b.Max(1)) / 2,
		Lng: (b.Min(0) + b.Max(0)) / 2,
	}
}
