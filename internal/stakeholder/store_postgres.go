package stakeholder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/db"
	"github.com/sells-group/coalition-geo/internal/geo"
)

const stakeholderColumns = `id, name,
	coalesce(street, ''), coalesce(city, ''), coalesce(state, ''), coalesce(zip_code, ''), coalesce(county, ''),
	ST_Y(location), ST_X(location), geocoding_failed,
	coalesce(geocode_source, ''), coalesce(geocode_quality, ''), geocoded_at,
	congressional_district_id, state_upper_district_id, state_lower_district_id,
	created_at, updated_at`

// statusSQL mirrors Stakeholder.Status. The recognized state codes are
// bound as the text[] parameter $codesArg, so an unknown state such as
// "ZZ" is unattempted in SQL exactly as in Go.
func statusSQL(codesArg int) string {
	complete := fmt.Sprintf(`(coalesce(btrim(street), '') <> '' AND coalesce(btrim(city), '') <> ''
		AND upper(btrim(coalesce(state, ''))) = ANY($%d)
		AND coalesce(zip_code, '') ~ '^\s*\d{5}(-\d{4})?\s*$')`, codesArg)
	return `CASE
		WHEN location IS NOT NULL THEN 'geocoded'
		WHEN geocoding_failed THEN 'failed'
		WHEN ` + complete + ` THEN 'pending'
		ELSE 'unattempted' END`
}

var districtColumns = map[geo.RegionType]string{
	geo.Congressional: "congressional_district_id",
	geo.StateUpper:    "state_upper_district_id",
	geo.StateLower:    "state_lower_district_id",
}

// PostgresStore implements Store on public.stakeholders.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts s, assigning an id when unset.
func (s *PostgresStore) Create(ctx context.Context, st *Stakeholder) error {
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO stakeholders (id, name, street, city, state, zip_code, county)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		st.ID, st.Name, nullable(st.Street), nullable(st.City), nullable(st.State),
		nullable(st.ZipCode), nullable(st.County),
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "stakeholder: create %s", st.Name)
	}
	return nil
}

// Get fetches one stakeholder.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Stakeholder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stakeholderColumns+` FROM stakeholders WHERE id = $1`, id)
	st, err := scanStakeholder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "id %s", id)
		}
		return nil, eris.Wrapf(err, "stakeholder: get %s", id)
	}
	return st, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Stakeholder, error) {
	where, args := listWhere(f)
	sql := `SELECT ` + stakeholderColumns + ` FROM stakeholders` + where + ` ORDER BY id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "stakeholder: list")
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

func listWhere(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.State != "" {
		args = append(args, strings.ToUpper(f.State))
		conds = append(conds, fmt.Sprintf("upper(state) = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			names[i] = string(st)
		}
		args = append(args, names, address.StateCodes())
		conds = append(conds, fmt.Sprintf("(%s) = ANY($%d)", statusSQL(len(args)), len(args)-1))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// SaveGeocode writes location, failure flag, provenance and districts in
// one UPDATE.
func (s *PostgresStore) SaveGeocode(ctx context.Context, id uuid.UUID, u GeocodeUpdate) error {
	var lat, lng *float64
	if u.Location != nil {
		lat, lng = &u.Location.Lat, &u.Location.Lng
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE stakeholders SET
			location = CASE WHEN $2::float8 IS NULL THEN NULL
				ELSE ST_SetSRID(ST_MakePoint($3::float8, $2::float8), 4326) END,
			geocoding_failed = $4,
			geocode_source = $5,
			geocode_quality = $6,
			geocoded_at = $7,
			congressional_district_id = $8,
			state_upper_district_id = $9,
			state_lower_district_id = $10,
			updated_at = now()
		WHERE id = $1`,
		id, lat, lng, u.Failed, nullable(u.Source), nullable(u.Quality), u.At,
		u.Districts.Congressional, u.Districts.StateUpper, u.Districts.StateLower,
	)
	if err != nil {
		return eris.Wrapf(err, "stakeholder: save geocode %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

// SaveDistricts overwrites every district reference, including nils.
func (s *PostgresStore) SaveDistricts(ctx context.Context, id uuid.UUID, d Districts) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stakeholders SET
			congressional_district_id = $2,
			state_upper_district_id = $3,
			state_lower_district_id = $4,
			updated_at = now()
		WHERE id = $1`,
		id, d.Congressional, d.StateUpper, d.StateLower,
	)
	if err != nil {
		return eris.Wrapf(err, "stakeholder: save districts %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

// Near implements Store.
func (s *PostgresStore) Near(ctx context.Context, pt geo.Point, meters float64, limit int) ([]Nearby, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+stakeholderColumns+`,
			ST_Distance(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance
		FROM stakeholders
		WHERE location IS NOT NULL
			AND ST_DWithin(location::geography, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance, id
		LIMIT $4`,
		pt.Lng, pt.Lat, meters, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "stakeholder: near")
	}
	defer rows.Close()

	var out []Nearby
	for rows.Next() {
		var n Nearby
		sc := newScanner(&n.Stakeholder)
		if err := rows.Scan(append(sc.dests(), &n.DistanceMeters)...); err != nil {
			return nil, eris.Wrap(err, "stakeholder: scan nearby")
		}
		sc.finish()
		out = append(out, n)
	}
	return out, rows.Err()
}

// WithDistrict implements Store.
func (s *PostgresStore) WithDistrict(ctx context.Context, t geo.RegionType, state string) ([]Stakeholder, error) {
	col, ok := districtColumns[t]
	if !ok {
		return nil, eris.Errorf("stakeholder: %s is not a district type", t)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+stakeholderColumns+`
		FROM stakeholders
		WHERE `+col+` IS NOT NULL AND ($1 = '' OR upper(state) = $1)
		ORDER BY `+col+`, id`,
		strings.ToUpper(state),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "stakeholder: list by %s", t)
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

// CountByStatus implements Store.
func (s *PostgresStore) CountByStatus(ctx context.Context, state string) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+statusSQL(2)+` AS status, count(*)
		FROM stakeholders
		WHERE ($1 = '' OR upper(state) = $1)
		GROUP BY 1`,
		strings.ToUpper(state), address.StateCodes(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "stakeholder: count by status")
	}
	defer rows.Close()

	out := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		out[st] = 0
	}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, eris.Wrap(err, "stakeholder: scan status count")
		}
		out[Status(name)] = n
	}
	return out, rows.Err()
}

// scanner collects the nullable coordinate columns and folds them into the
// stakeholder once the row has been scanned.
type scanner struct {
	st       *Stakeholder
	lat, lng *float64
}

func newScanner(st *Stakeholder) *scanner { return &scanner{st: st} }

func (sc *scanner) dests() []any {
	st := sc.st
	return []any{
		&st.ID, &st.Name,
		&st.Street, &st.City, &st.State, &st.ZipCode, &st.County,
		&sc.lat, &sc.lng, &st.GeocodingFailed,
		&st.GeocodeSource, &st.GeocodeQuality, &st.GeocodedAt,
		&st.Districts.Congressional, &st.Districts.StateUpper, &st.Districts.StateLower,
		&st.CreatedAt, &st.UpdatedAt,
	}
}

func (sc *scanner) finish() {
	if sc.lat != nil && sc.lng != nil {
		sc.st.Location = &geo.Point{Lat: *sc.lat, Lng: *sc.lng}
	}
}

func scanStakeholder(row pgx.Row) (*Stakeholder, error) {
	st := &Stakeholder{}
	sc := newScanner(st)
	if err := row.Scan(sc.dests()...); err != nil {
		return nil, err
	}
	sc.finish()
	return st, nil
}

func scanStakeholders(rows pgx.Rows) ([]Stakeholder, error) {
	var out []Stakeholder
	for rows.Next() {
		st, err := scanStakeholder(rows)
		if err != nil {
			return nil, eris.Wrap(err, "stakeholder: scan")
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
