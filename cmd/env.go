package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sells-group/coalition-geo/internal/backfill"
	"github.com/sells-group/coalition-geo/internal/config"
	"github.com/sells-group/coalition-geo/internal/db"
	"github.com/sells-group/coalition-geo/internal/geocoding"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/monitoring"
	"github.com/sells-group/coalition-geo/internal/resilience"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
	"github.com/sells-group/coalition-geo/pkg/geocode"
)

// geoEnv holds the database-backed collaborators shared by commands.
type geoEnv struct {
	Pool         *pgxpool.Pool
	Stakeholders stakeholder.Store
	Regions      geospatial.RegionStore
	Assigner     *geospatial.Assigner
	Service      *geocoding.Service
	Breakers     *resilience.Breakers
}

// Close releases the pool.
func (e *geoEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// Checker returns a health checker over this environment's store and
// provider breakers.
func (e *geoEnv) Checker(mc config.MonitoringConfig) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(e.Stakeholders, e.Breakers), monitoring.NewAlerter(mc), mc)
}

// Runner returns a bulk runner writing per-record lines to out.
func (e *geoEnv) Runner(out io.Writer) *backfill.Runner {
	return backfill.NewRunner(e.Stakeholders, e.Service, e.Assigner, out)
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return db.Connect(ctx, db.PoolConfig{URL: cfg.Store.DatabaseURL, MaxConns: cfg.Store.MaxConns})
}

// initEnv connects to Postgres and wires stores, assigner and service.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*geoEnv, error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, err
	}

	types, err := cfg.Districts.RegionTypes()
	if err != nil {
		pool.Close()
		return nil, err
	}

	env := &geoEnv{
		Pool:         pool,
		Stakeholders: stakeholder.NewPostgresStore(pool),
		Regions:      geospatial.NewPostgresRegionStore(pool),
	}
	env.Assigner = geospatial.NewAssigner(env.Regions, geospatial.WithDistrictTypes(types...))

	opts := []geocoding.Option{geocoding.WithRetryPolicy(cfg.Geocode.RetryPolicy())}
	if b := cfg.Geocode.Breakers(); b != nil {
		env.Breakers = b
		opts = append(opts, geocoding.WithBreakers(b))
	}
	env.Service = geocoding.NewService(env.Stakeholders, env.Assigner, buildProviders(cfg.Geocode, pool), opts...)
	return env, nil
}

// buildProviders returns the provider chain in priority order: the local
// TIGER geocoder, then the configured public provider. Each is wrapped in
// the match cache when enabled.
func buildProviders(gc config.GeocodeConfig, pool db.Pool) []geocode.Provider {
	hc := &http.Client{Timeout: time.Duration(gc.TimeoutSecs) * time.Second}
	httpOpts := []geocode.HTTPOption{
		geocode.WithHTTPClient(hc),
		geocode.WithRateLimit(gc.RateLimit),
		geocode.WithAmbiguityMeters(gc.AmbiguityMeters),
	}

	var providers []geocode.Provider
	if !gc.SkipTiger {
		providers = append(providers, geocode.NewTigerProvider(pool, gc.MaxRating, geocode.WithTigerAmbiguity(gc.AmbiguityMeters)))
	}
	switch gc.PublicProvider {
	case config.PublicCensus:
		providers = append(providers, geocode.NewCensusProvider(gc.CensusBenchmark, append(httpOpts, geocode.WithBaseURL(gc.CensusURL))...))
	case config.PublicGoogle:
		providers = append(providers, geocode.NewGoogleProvider(gc.GoogleKey, append(httpOpts, geocode.WithBaseURL(gc.GoogleURL))...))
	}

	if gc.CacheEnabled && pool != nil {
		for i, p := range providers {
			providers[i] = geocode.NewCachedProvider(p, pool, gc.CacheTTL())
		}
	}
	return providers
}
