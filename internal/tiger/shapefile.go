package tiger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
)

// ReadRegions reads every polygon record of a TIGER/Line boundary shapefile
// as a region of type t. Records without usable geometry and the
// placeholder "ZZ" districts covering open water are skipped.
func ReadRegions(shpPath string, t geo.RegionType) ([]geospatial.Region, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	if _, ok := fieldIdx["geoid"]; !ok {
		return nil, eris.Errorf("tiger: %s has no GEOID field", shpPath)
	}

	var (
		regions []geospatial.Region
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		rec := record{reader: reader, idx: fieldIdx}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		r, keep := buildRegion(rec, t)
		if !keep {
			skipped++
			continue
		}
		r.Geometry = mp
		if r.Centroid == (geo.Point{}) {
			r.Centroid = boundsCenter(mp)
		}
		regions = append(regions, r)
	}

	zap.L().Debug("tiger: read shapefile",
		zap.String("path", shpPath),
		zap.String("region_type", string(t)),
		zap.Int("regions", len(regions)),
		zap.Int("skipped", skipped),
	)
	return regions, nil
}

// record reads trimmed attribute values by lowercase field name.
type record struct {
	reader *shp.Reader
	idx    map[string]int
}

func (r record) get(name string) string {
	i, ok := r.idx[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(r.reader.Attribute(i), "\x00"))
}

// districtCode returns the congressional district number. The field name
// carries the Congress number (CD118FP, CD119FP, ...).
func (r record) districtCode() string {
	for name := range r.idx {
		if strings.HasPrefix(name, "cd") && strings.HasSuffix(name, "fp") {
			return r.get(name)
		}
	}
	return ""
}

func buildRegion(rec record, t geo.RegionType) (geospatial.Region, bool) {
	r := geospatial.Region{
		GEOID:     rec.get("geoid"),
		Name:      rec.get("namelsad"),
		Type:      t,
		StateFIPS: rec.get("statefp"),
		MTFCC:     rec.get("mtfcc"),
	}
	if r.GEOID == "" {
		return r, false
	}
	if r.Name == "" {
		r.Name = rec.get("name")
	}
	if r.MTFCC == "" {
		r.MTFCC = t.MTFCC()
	}
	if r.StateFIPS == "" && len(r.GEOID) >= 2 {
		r.StateFIPS = r.GEOID[:2]
	}
	abbr, _ := address.StateForFIPS(r.StateFIPS)

	switch t {
	case geo.State:
		r.Label = rec.get("stusps")
		if r.Label == "" {
			r.Label = abbr
		}
	case geo.County:
		r.Label = rec.get("name")
	case geo.Congressional:
		code := rec.districtCode()
		if isPlaceholder(code) {
			return r, false
		}
		r.Label = congressionalLabel(abbr, code)
	case geo.StateUpper:
		code := rec.get("sldust")
		if isPlaceholder(code) {
			return r, false
		}
		r.Label = legislativeLabel(abbr, "SD", code)
	case geo.StateLower:
		code := rec.get("sldlst")
		if isPlaceholder(code) {
			return r, false
		}
		r.Label = legislativeLabel(abbr, "HD", code)
	}
	if r.Name == "" {
		r.Name = r.Label
	}

	lat, latErr := strconv.ParseFloat(rec.get("intptlat"), 64)
	lng, lngErr := strconv.ParseFloat(rec.get("intptlon"), 64)
	if latErr == nil && lngErr == nil {
		r.Centroid = geo.Point{Lat: lat, Lng: lng}
	}
	return r, true
}

func isPlaceholder(code string) bool {
	return code != "" && strings.Trim(code, "Z") == ""
}

// congressionalLabel formats "VA-08"; single-seat states get "AL".
func congressionalLabel(abbr, code string) string {
	if code == "00" || code == "98" {
		code = "AL"
	}
	if abbr == "" {
		return code
	}
	return abbr + "-" + code
}

func legislativeLabel(abbr, chamber, code string) string {
	trimmed := strings.TrimLeft(code, "0")
	if trimmed == "" {
		trimmed = code
	}
	if abbr == "" {
		return fmt.Sprintf("%s-%s", chamber, trimmed)
	}
	return fmt.Sprintf("%s %s-%s", abbr, chamber, trimmed)
}
