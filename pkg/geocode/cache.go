package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/db"
)

// CachedProvider remembers matches from the wrapped provider in
// geo.geocode_cache. Non-matches are never cached, so a retry always
// reaches the provider again.
type CachedProvider struct {
	inner Provider
	pool  db.Pool
	ttl   time.Duration
}

// NewCachedProvider wraps inner. A ttl of zero keeps entries forever.
func NewCachedProvider(inner Provider, pool db.Pool, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, pool: pool, ttl: ttl}
}

// Name implements Provider.
func (c *CachedProvider) Name() string { return c.inner.Name() }

// Geocode implements Provider.
func (c *CachedProvider) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	key := cacheKey(addr)

	if r, err := c.lookup(ctx, key); err == nil {
		zap.L().Debug("geocode cache hit",
			zap.String("provider", c.inner.Name()),
			zap.String("key", key[:12]),
		)
		return r, nil
	}

	r, err := c.inner.Geocode(ctx, addr)
	if err != nil || !r.Matched() {
		return r, err
	}

	if serr := c.store(ctx, key, r); serr != nil {
		zap.L().Warn("geocode cache store failed", zap.Error(serr))
	}
	return r, nil
}

func (c *CachedProvider) lookup(ctx context.Context, key string) (*Result, error) {
	query := `SELECT latitude, longitude, quality, rating, matched_address, county_fips
		FROM geo.geocode_cache WHERE address_hash = $1 AND provider = $2`
	args := []any{key, c.inner.Name()}
	if c.ttl > 0 {
		query += " AND cached_at > $3"
		args = append(args, time.Now().Add(-c.ttl))
	}

	r := &Result{Status: StatusMatched, Source: c.inner.Name(), Cached: true, Candidates: 1}
	var rating *int
	var matched, fips *string
	err := c.pool.QueryRow(ctx, query, args...).Scan(
		&r.Point.Lat, &r.Point.Lng, &r.Quality, &rating, &matched, &fips,
	)
	if err != nil {
		return nil, err
	}
	if rating != nil {
		r.Rating = *rating
	}
	if matched != nil {
		r.MatchedAddress = *matched
	}
	if fips != nil {
		r.CountyFIPS = *fips
	}
	return r, nil
}

func (c *CachedProvider) store(ctx context.Context, key string, r *Result) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO geo.geocode_cache
			(address_hash, provider, latitude, longitude, quality, rating, matched_address, county_fips, cached_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (address_hash, provider) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			quality = EXCLUDED.quality,
			rating = EXCLUDED.rating,
			matched_address = EXCLUDED.matched_address,
			county_fips = EXCLUDED.county_fips,
			cached_at = now()`,
		key, c.inner.Name(), r.Point.Lat, r.Point.Lng, r.Quality, r.Rating,
		nilIfEmpty(r.MatchedAddress), nilIfEmpty(r.CountyFIPS),
	)
	return eris.Wrap(err, "geocode: store cache")
}

// cacheKey is the SHA-256 of the case-folded address.
func cacheKey(addr AddressInput) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(addr.Street)),
		strings.ToLower(strings.TrimSpace(addr.City)),
		strings.ToLower(strings.TrimSpace(addr.State)),
		strings.TrimSpace(addr.ZipCode),
	)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(normalized)))
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
