package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/backfill"
	"github.com/sells-group/coalition-geo/internal/config"
	"github.com/sells-group/coalition-geo/internal/db"
	"github.com/sells-group/coalition-geo/internal/store"
)

// openJournal returns the configured run journal, or nil when journaling
// is off. The caller closes it.
func openJournal(ctx context.Context, rc config.RunsConfig, pool db.Pool) (store.Store, error) {
	var j store.Store
	switch rc.Backend {
	case config.RunsNone:
		return nil, nil
	case config.RunsSQLite:
		s, err := store.NewSQLite(rc.SQLitePath)
		if err != nil {
			return nil, err
		}
		j = s
	default:
		j = store.NewPostgres(pool)
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// journalRun records a bulk run around fn. Journal failures are logged and
// never stop the run itself.
func journalRun(ctx context.Context, j store.Store, id uuid.UUID, kind string, opts any, fn func() (*backfill.Summary, error)) (*backfill.Summary, error) {
	if j == nil {
		return fn()
	}
	log := zap.L().With(zap.String("run_id", id.String()), zap.String("kind", kind))
	if _, err := j.CreateRun(ctx, id.String(), kind, opts); err != nil {
		log.Warn("run journal: create failed", zap.Error(err))
		return fn()
	}

	sum, runErr := fn()

	var (
		result any
		errMsg string
	)
	if sum != nil {
		result = sum
	}
	if runErr != nil {
		errMsg = runErr.Error()
	}
	status := store.FinishStatus(runErr, sum != nil && sum.Interrupted)
	// The run context may already be cancelled by an interrupt.
	if err := j.FinishRun(context.WithoutCancel(ctx), id.String(), status, result, errMsg); err != nil {
		log.Warn("run journal: finish failed", zap.Error(err))
	}
	return sum, runErr
}

var geocodeRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled backfill and reassign runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		var filter store.RunFilter
		filter.Kind, _ = f.GetString("kind")
		status, _ := f.GetString("status")
		filter.Status = store.RunStatus(status)
		filter.Limit, _ = f.GetInt("limit")

		var pool db.Pool
		if cfg.Runs.Backend == config.RunsPostgres {
			p, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer p.Close()
			pool = p
		}
		j, err := openJournal(ctx, cfg.Runs, pool)
		if err != nil {
			return err
		}
		if j == nil {
			return eris.New("run journal is disabled (runs.backend = none)")
		}
		defer j.Close() //nolint:errcheck

		runs, err := j.ListRuns(ctx, filter)
		if err != nil {
			return err
		}
		if formatFlag(cmd) == "json" {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		return writeRunTable(cmd.OutOrStdout(), runs)
	},
}

func writeRunTable(out io.Writer, runs []store.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.CreatedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Kind, r.Status, r.CreatedAt.UTC().Format(time.RFC3339), dur, r.Error)
	}
	return w.Flush()
}

func init() {
	f := geocodeRunsCmd.Flags()
	f.String("kind", "", "only runs of this kind: backfill, dry-run or reassign")
	f.String("status", "", "only runs with this status: running, complete, interrupted or failed")
	f.Int("limit", store.DefaultListLimit, "maximum runs listed")
	f.String("format", "text", "output format: text or json")
	geocodeCmd.AddCommand(geocodeRunsCmd)
}
