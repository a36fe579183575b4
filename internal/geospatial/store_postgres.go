package geospatial

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/coalition-geo/internal/db"
	"github.com/sells-group/coalition-geo/internal/geo"
)

const regionColumns = `id, geoid, name, coalesce(label, ''), region_type, coalesce(state_fips, ''),
	coalesce(mtfcc, ''), latitude, longitude, created_at`

var regionImportColumns = []string{
	"geoid", "name", "label", "region_type", "state_fips", "mtfcc", "latitude", "longitude", "geom",
}

// PostgresRegionStore implements RegionStore on geo.regions with PostGIS.
type PostgresRegionStore struct {
	pool db.Pool
}

// NewPostgresRegionStore creates a new PostgresRegionStore.
func NewPostgresRegionStore(pool db.Pool) *PostgresRegionStore {
	return &PostgresRegionStore{pool: pool}
}

// Containing implements RegionStore.
func (s *PostgresRegionStore) Containing(ctx context.Context, pt geo.Point, t geo.RegionType) ([]Region, error) {
	sql := `
		SELECT ` + regionColumns + `
		FROM geo.regions
		WHERE region_type = $1
			AND ST_Covers(geom, ST_SetSRID(ST_MakePoint($2, $3), 4326))
		ORDER BY geoid, id
	`
	rows, err := s.pool.Query(ctx, sql, string(t), pt.Lng, pt.Lat)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: containing %s", t)
	}
	defer rows.Close()
	return scanRegions(rows)
}

// ByIDs implements RegionStore.
func (s *PostgresRegionStore) ByIDs(ctx context.Context, ids []int64) (map[int64]Region, error) {
	out := make(map[int64]Region, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+regionColumns+` FROM geo.regions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "geo: regions by id")
	}
	defer rows.Close()

	regions, err := scanRegions(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		out[r.ID] = r
	}
	return out, nil
}

// Upsert implements RegionStore.
func (s *PostgresRegionStore) Upsert(ctx context.Context, regions []Region) (int64, error) {
	rows, err := importRows(regions)
	if err != nil {
		return 0, err
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "geo.regions",
		Columns:      regionImportColumns,
		ConflictKeys: []string{"region_type", "geoid"},
		Touch:        "updated_at",
	}, rows)
}

// Replace implements RegionStore. Stakeholder references to deleted rows are
// nulled by the foreign key; run a reassign afterwards.
func (s *PostgresRegionStore) Replace(ctx context.Context, t geo.RegionType, stateFIPS string, regions []Region) (int64, error) {
	rows, err := importRows(regions)
	if err != nil {
		return 0, err
	}
	where, args := "region_type = $1", []any{string(t)}
	if stateFIPS != "" {
		where += " AND state_fips = $2"
		args = append(args, stateFIPS)
	}
	return db.ReplaceWhere(ctx, s.pool, "geo.regions", where, args, regionImportColumns, rows)
}

// Counts implements RegionStore.
func (s *PostgresRegionStore) Counts(ctx context.Context) (map[geo.RegionType]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT region_type, count(*) FROM geo.regions GROUP BY region_type`)
	if err != nil {
		return nil, eris.Wrap(err, "geo: count regions")
	}
	defer rows.Close()

	out := make(map[geo.RegionType]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, eris.Wrap(err, "geo: scan region count")
		}
		out[geo.RegionType(t)] = n
	}
	return out, rows.Err()
}

func importRows(regions []Region) ([][]any, error) {
	rows := make([][]any, 0, len(regions))
	for _, r := range regions {
		if r.Geometry == nil {
			return nil, eris.Errorf("geo: region %s/%s has no geometry", r.Type, r.GEOID)
		}
		data, err := ewkb.Marshal(r.Geometry.SetSRID(geo.SRID), ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: encode region %s", r.GEOID)
		}
		mtfcc := r.MTFCC
		if mtfcc == "" {
			mtfcc = r.Type.MTFCC()
		}
		rows = append(rows, []any{
			r.GEOID, r.Name, r.Label, string(r.Type), r.StateFIPS, mtfcc,
			r.Centroid.Lat, r.Centroid.Lng, data,
		})
	}
	return rows, nil
}

func scanRegions(rows pgx.Rows) ([]Region, error) {
	var out []Region
	for rows.Next() {
		var (
			r Region
			t string
		)
		if err := rows.Scan(
			&r.ID, &r.GEOID, &r.Name, &r.Label, &t, &r.StateFIPS,
			&r.MTFCC, &r.Centroid.Lat, &r.Centroid.Lng, &r.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "geo: scan region row")
		}
		r.Type = geo.RegionType(t)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "geo: iterate region rows")
	}
	return out, nil
}

var _ RegionStore = (*PostgresRegionStore)(nil)
