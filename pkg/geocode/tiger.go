package geocode

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/db"
	"github.com/sells-group/coalition-geo/internal/geo"
)

// Postgres error codes meaning the tiger geocoder extension is missing.
var tigerMissingCodes = map[string]bool{
	"42883": true, // undefined_function
	"42P01": true, // undefined_table
	"3F000": true, // invalid_schema_name
}

const tigerGeocodeSQL = `
	SELECT
		ST_Y(geomout) AS lat,
		ST_X(geomout) AS lon,
		rating,
		pprint_addy(addy) AS matched_address,
		(addy).statefp || (addy).countyfp AS county_fips
	FROM geocode($1, 2)
	ORDER BY rating`

// TigerProvider geocodes with the PostGIS TIGER geocoder in the local
// database. It is the primary, authoritative provider.
type TigerProvider struct {
	pool            db.Pool
	maxRating       int
	ambiguityMeters float64
}

// TigerOption configures a TigerProvider.
type TigerOption func(*TigerProvider)

// WithTigerAmbiguity sets the spread above which two equally rated
// candidates make the result ambiguous.
func WithTigerAmbiguity(meters float64) TigerOption {
	return func(p *TigerProvider) {
		if meters > 0 {
			p.ambiguityMeters = meters
		}
	}
}

// NewTigerProvider creates a TigerProvider. Matches rated worse than
// maxRating (lower is better) are reported as no match.
func NewTigerProvider(pool db.Pool, maxRating int, opts ...TigerOption) *TigerProvider {
	p := &TigerProvider{pool: pool, maxRating: maxRating, ambiguityMeters: DefaultAmbiguityMeters}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements Provider.
func (p *TigerProvider) Name() string { return SourceTiger }

type tigerCandidate struct {
	pt      geo.Point
	rating  int
	address string
	county  sql.NullString
}

// Geocode implements Provider.
func (p *TigerProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if p.pool == nil {
		return nil, eris.Wrap(ErrNotConfigured, "tiger: no database pool")
	}

	oneLine := addr.OneLine()
	if oneLine == "" {
		return rejected(SourceTiger, eris.New("tiger: empty address")), nil
	}

	cands, err := p.query(ctx, oneLine)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && tigerMissingCodes[pgErr.Code] {
			return nil, eris.Wrapf(ErrNotConfigured, "tiger: geocoder unavailable (%s)", pgErr.Message)
		}
		zap.L().Debug("tiger provider: query failed",
			zap.String("address", oneLine),
			zap.Error(err),
		)
		return transient(SourceTiger, eris.Wrap(err, "tiger: geocode query")), nil
	}

	if len(cands) == 0 {
		return noMatch(SourceTiger), nil
	}

	best := cands[0]
	if best.rating > p.maxRating {
		zap.L().Debug("tiger provider: rating exceeds threshold",
			zap.String("address", oneLine),
			zap.Int("rating", best.rating),
			zap.Int("max_rating", p.maxRating),
		)
		r := noMatch(SourceTiger)
		r.Rating = best.rating
		return r, nil
	}

	if len(cands) > 1 && cands[1].rating == best.rating &&
		geo.DistanceMeters(best.pt, cands[1].pt) > p.ambiguityMeters {
		r := ambiguous(SourceTiger, len(cands))
		r.Rating = best.rating
		return r, nil
	}

	r := matched(SourceTiger, best.pt, ratingToQuality(best.rating))
	r.Rating = best.rating
	r.MatchedAddress = best.address
	r.Candidates = len(cands)
	if best.county.Valid {
		r.CountyFIPS = best.county.String
	}
	return r, nil
}

func (p *TigerProvider) query(ctx context.Context, oneLine string) ([]tigerCandidate, error) {
	rows, err := p.pool.Query(ctx, tigerGeocodeSQL, oneLine)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tigerCandidate
	for rows.Next() {
		var c tigerCandidate
		if err := rows.Scan(&c.pt.Lat, &c.pt.Lng, &c.rating, &c.address, &c.county); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ratingToQuality maps a tiger rating (0 is exact) onto quality labels.
func ratingToQuality(rating int) string {
	switch {
	case rating < 10:
		return QualityRooftop
	case rating < 20:
		return QualityRange
	case rating < 50:
		return QualityCentroid
	default:
		return QualityApproximate
	}
}
