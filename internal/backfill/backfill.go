// Package backfill runs the geocoding pipeline over many stakeholders.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/coalition-geo/internal/geocoding"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

// Options select and pace a backfill run.
type Options struct {
	// RunID identifies the run in logs and the run journal; zero picks a new one.
	RunID          uuid.UUID     `json:"-"`
	State          string        `json:"state,omitempty"`
	RetryFailed    bool          `json:"retry_failed,omitempty"`
	Force          bool          `json:"force,omitempty"`
	Limit          int           `json:"limit,omitempty"`
	Delay          time.Duration `json:"delay"`
	Concurrency    int           `json:"concurrency"`
	DryRun         bool          `json:"dry_run,omitempty"`
	ClearOnFailure bool          `json:"clear_on_failure,omitempty"`
}

// Filter returns the candidate selection for o: pending stakeholders, plus
// failed ones when retrying and geocoded ones when forcing.
func (o Options) Filter() stakeholder.Filter {
	statuses := []stakeholder.Status{stakeholder.StatusPending}
	if o.RetryFailed || o.Force {
		statuses = append(statuses, stakeholder.StatusFailed)
	}
	if o.Force {
		statuses = append(statuses, stakeholder.StatusGeocoded)
	}
	return stakeholder.Filter{State: o.State, Statuses: statuses, Limit: o.Limit}
}

// Summary totals one run.
type Summary struct {
	RunID       uuid.UUID     `json:"run_id"`
	Kind        string        `json:"kind"`
	Candidates  int           `json:"candidates"`
	Geocoded    int           `json:"geocoded"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Errored     int           `json:"errored,omitempty"`
	Preserved   int           `json:"preserved,omitempty"`
	Updated     int           `json:"updated,omitempty"`
	Unchanged   int           `json:"unchanged,omitempty"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// Processed is the number of stakeholders that reached an outcome.
func (s *Summary) Processed() int {
	return s.Geocoded + s.Failed + s.Skipped + s.Errored + s.Updated + s.Unchanged
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d candidates", s.Kind, s.RunID, s.Candidates)
	switch s.Kind {
	case KindReassign:
		fmt.Fprintf(&b, ", %d updated, %d unchanged", s.Updated, s.Unchanged)
		if s.Errored > 0 {
			fmt.Fprintf(&b, ", %d errored", s.Errored)
		}
	case KindDryRun:
	default:
		fmt.Fprintf(&b, ", %d geocoded, %d failed, %d skipped", s.Geocoded, s.Failed, s.Skipped)
		if s.Preserved > 0 {
			fmt.Fprintf(&b, " (%d kept prior location)", s.Preserved)
		}
		if s.Errored > 0 {
			fmt.Fprintf(&b, ", %d errored", s.Errored)
		}
	}
	if s.Interrupted {
		fmt.Fprintf(&b, "; interrupted after %d", s.Processed())
	}
	return b.String()
}

// Run kinds.
const (
	KindBackfill = "backfill"
	KindDryRun   = "dry-run"
	KindReassign = "reassign"
)

// Runner drives the geocoding service over a candidate list.
type Runner struct {
	store    stakeholder.Store
	svc      *geocoding.Service
	assigner *geospatial.Assigner

	mu  sync.Mutex
	out io.Writer
}

// NewRunner creates a Runner writing one line per stakeholder to out.
func NewRunner(store stakeholder.Store, svc *geocoding.Service, assigner *geospatial.Assigner, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{store: store, svc: svc, assigner: assigner, out: out}
}

// Run geocodes the candidates selected by opts. Individual failures are
// outcomes, and a write that fails for one stakeholder is an "error" line.
// Only configuration and region store errors stop the run; the returned
// summary covers what completed before the stop.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: runID(opts.RunID), Kind: KindBackfill}
	log := zap.L().With(zap.String("run_id", sum.RunID.String()))

	candidates, err := r.store.List(ctx, opts.Filter())
	if err != nil {
		return sum, eris.Wrap(err, "backfill: list candidates")
	}
	sum.Candidates = len(candidates)

	if opts.DryRun {
		sum.Kind = KindDryRun
		for i := range candidates {
			r.dryRunLine(&candidates[i])
		}
		sum.Duration = time.Since(start)
		return sum, nil
	}

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	var limiter *rate.Limiter
	if opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Delay), 1)
	}

	log.Info("backfill: starting",
		zap.Int("candidates", len(candidates)),
		zap.String("state", opts.State),
		zap.Int("concurrency", concurrency),
		zap.Duration("delay", opts.Delay),
		zap.Bool("force", opts.Force),
		zap.Bool("retry_failed", opts.RetryFailed),
	)

	gopts := geocoding.Options{Force: opts.Force, Retry: opts.RetryFailed, ClearOnFailure: opts.ClearOnFailure}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range candidates {
		if gctx.Err() != nil {
			break
		}
		st := &candidates[i]
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
			}
			if gctx.Err() != nil {
				return nil
			}
			out, err := r.svc.GeocodeAndAssignDistricts(context.WithoutCancel(gctx), st, gopts)
			if err != nil {
				var rerr *geocoding.RecordError
				if !errors.As(err, &rerr) {
					return eris.Wrapf(err, "backfill: stakeholder %s", st.ID)
				}
				log.Warn("backfill: stakeholder not saved",
					zap.String("stakeholder_id", st.ID.String()), zap.Error(err))
				out = erroredOutcome(st.ID, out, rerr.Err)
			}
			r.record(sum, out)
			return nil
		})
	}

	err = g.Wait()
	sum.Interrupted = ctx.Err() != nil
	sum.Duration = time.Since(start)

	log.Info("backfill: finished",
		zap.Int("geocoded", sum.Geocoded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errored", sum.Errored),
		zap.Bool("interrupted", sum.Interrupted),
		zap.Duration("elapsed", sum.Duration),
	)
	return sum, err
}

// ReassignOptions select stakeholders whose districts are recomputed.
type ReassignOptions struct {
	RunID uuid.UUID `json:"-"`
	State string    `json:"state,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Reassign recomputes district references for every geocoded stakeholder,
// e.g. after a region import. No provider is called.
func (r *Runner) Reassign(ctx context.Context, opts ReassignOptions) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: runID(opts.RunID), Kind: KindReassign}

	candidates, err := r.store.List(ctx, stakeholder.Filter{
		State:    opts.State,
		Statuses: []stakeholder.Status{stakeholder.StatusGeocoded},
		Limit:    opts.Limit,
	})
	if err != nil {
		return sum, eris.Wrap(err, "backfill: list geocoded")
	}
	sum.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		st := &candidates[i]
		changed, err := r.assigner.AssignDistricts(context.WithoutCancel(ctx), r.store, st)
		if errors.Is(err, stakeholder.ErrNotFound) {
			sum.Errored++
			r.printf("error     %s %v\n", st.ID, err)
			continue
		}
		if err != nil {
			sum.Duration = time.Since(start)
			return sum, eris.Wrapf(err, "backfill: reassign %s", st.ID)
		}
		if changed {
			sum.Updated++
			r.printf("updated   %s %s\n", st.ID, formatDistricts(st.Districts))
		} else {
			sum.Unchanged++
		}
	}

	sum.Duration = time.Since(start)
	zap.L().Info("backfill: reassign finished",
		zap.String("run_id", sum.RunID.String()),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("errored", sum.Errored),
		zap.Bool("interrupted", sum.Interrupted),
	)
	return sum, nil
}

func (r *Runner) record(sum *Summary, out *geocoding.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch out.Status {
	case geocoding.OutcomeGeocoded:
		sum.Geocoded++
	case geocoding.OutcomeFailed:
		sum.Failed++
		if out.Preserved {
			sum.Preserved++
		}
	case geocoding.OutcomeErrored:
		sum.Errored++
	default:
		sum.Skipped++
	}
	fmt.Fprintln(r.out, FormatOutcome(out))
}

func (r *Runner) dryRunLine(st *stakeholder.Stakeholder) {
	addr := ""
	if a, err := st.Validate(); err == nil {
		addr = a.OneLine()
	}
	r.printf("would geocode %s [%s] %s\n", st.ID, st.Status(), addr)
}

func (r *Runner) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

// FormatOutcome renders one outcome as a single report line.
func FormatOutcome(o *geocoding.Outcome) string {
	switch o.Status {
	case geocoding.OutcomeGeocoded:
		return fmt.Sprintf("geocoded  %s %s source=%s quality=%s %s",
			o.StakeholderID, o.Location, o.Source, o.Quality, formatDistricts(o.Districts))
	case geocoding.OutcomeFailed:
		line := fmt.Sprintf("failed    %s %s", o.StakeholderID, o.Reason)
		if o.Preserved {
			line += " (kept prior location)"
		}
		return line
	case geocoding.OutcomeErrored:
		return fmt.Sprintf("error     %s %s", o.StakeholderID, o.Reason)
	}
	return fmt.Sprintf("skipped   %s %s", o.StakeholderID, o.Reason)
}

// erroredOutcome keeps the provider attempts of out, if any, and marks the
// stakeholder as not saved.
func erroredOutcome(id uuid.UUID, out *geocoding.Outcome, err error) *geocoding.Outcome {
	e := &geocoding.Outcome{StakeholderID: id, Status: geocoding.OutcomeErrored, Reason: err.Error()}
	if out != nil {
		e.Attempts = out.Attempts
	}
	return e
}

func formatDistricts(d stakeholder.Districts) string {
	return fmt.Sprintf("cd=%s upper=%s lower=%s", idOrDash(d.Congressional), idOrDash(d.StateUpper), idOrDash(d.StateLower))
}

func idOrDash(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprint(*id)
}

func runID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}
