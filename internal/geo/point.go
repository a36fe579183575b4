// Package geo holds the coordinate primitives shared by geocoding and
// spatial assignment.
package geo

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// SRID is the spatial reference used for every stored coordinate (WGS 84).
const SRID = 4326

const earthRadiusMeters = 6371008.8

// ErrInvalidPoint is returned for coordinates outside WGS 84 bounds.
var ErrInvalidPoint = eris.New("geo: coordinate out of range")

// Point is a WGS 84 coordinate.
type Point struct {
	Lat float64 `json:"latitude" yaml:"latitude"`
	Lng float64 `json:"longitude" yaml:"longitude"`
}

// NewPoint validates and returns a Point.
func NewPoint(lat, lng float64) (Point, error) {
	p := Point{Lat: lat, Lng: lng}
	return p, p.Validate()
}

// Validate rejects NaN and out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) ||
		p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return eris.Wrapf(ErrInvalidPoint, "lat=%f lng=%f", p.Lat, p.Lng)
	}
	return nil
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lng)
}

// Coord returns the point in go-geom's x/y order.
func (p Point) Coord() geom.Coord {
	return geom.Coord{p.Lng, p.Lat}
}

// Geom returns the point as a go-geom Point with SRID set.
func (p Point) Geom() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Lng, p.Lat}).SetSRID(SRID)
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Spread returns the largest pairwise distance among pts in meters.
func Spread(pts []Point) float64 {
	var widest float64
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			if d := DistanceMeters(pts[i], pts[j]); d > widest {
				widest = d
			}
		}
	}
	return widest
}
