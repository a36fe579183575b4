package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/db"
)

// PostgresStore implements Store on the shared pgx pool. The pool is owned
// by the caller; Close is a no-op.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres wraps pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS public.geocode_runs (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	options     JSONB,
	result      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_geocode_runs_created_at ON public.geocode_runs(created_at DESC);
`

// Migrate creates the journal table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate runs")
}

// Close implements Store.
func (s *PostgresStore) Close() error { return nil }

// CreateRun implements Store.
func (s *PostgresStore) CreateRun(ctx context.Context, id, kind string, options any) (*Run, error) {
	opts, err := marshalJSON(options)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO public.geocode_runs (id, kind, status, options, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, kind, string(RunStatusRunning), opts, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &Run{ID: id, Kind: kind, Status: RunStatusRunning, Options: opts, CreatedAt: now}, nil
}

// FinishRun implements Store.
func (s *PostgresStore) FinishRun(ctx context.Context, id string, status RunStatus, result any, errMsg string) error {
	res, err := marshalJSON(result)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE public.geocode_runs SET status = $1, result = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), res, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "id %s", id)
	}
	return nil
}

const postgresRunColumns = `id::text, kind, status, options, result, error, created_at, finished_at`

// GetRun implements Store.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresRunColumns+` FROM public.geocode_runs WHERE id = $1`, id)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRunNotFound, "id %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get run")
	}
	return r, nil
}

// ListRuns implements Store.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM public.geocode_runs
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3`

	rows, err := s.pool.Query(ctx, query, filter.Kind, string(filter.Status), limitOrDefault(filter.Limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*Run, error) {
	var (
		r      Run
		status string
	)
	if err := row.Scan(&r.ID, &r.Kind, &status, &r.Options, &r.Result, &r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	return &r, nil
}
