// Package geocoding turns a stakeholder's mailing address into a stored
// location and district references. It owns every write to those fields.
package geocoding

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/resilience"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
	"github.com/sells-group/coalition-geo/pkg/geocode"
)

// Options alter the skip and failure rules for one call.
type Options struct {
	// Force re-geocodes stakeholders that already have a location.
	Force bool
	// Retry re-attempts stakeholders previously marked failed.
	Retry bool
	// ClearOnFailure wipes a prior good location when every provider fails.
	ClearOnFailure bool
}

// OutcomeStatus is the per-stakeholder result of a run.
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeGeocoded OutcomeStatus = "geocoded"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	// OutcomeErrored marks a stakeholder whose result could not be written.
	OutcomeErrored OutcomeStatus = "error"
)

// RecordError is a write fault confined to one stakeholder, such as a row
// deleted while a run was in flight. Bulk runs record it and continue.
type RecordError struct {
	StakeholderID uuid.UUID
	Err           error
}

func (e *RecordError) Error() string {
	return "geocoding: save " + e.StakeholderID.String() + ": " + e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }

// Skip reasons.
const (
	ReasonIncomplete      = "incomplete address"
	ReasonAlreadyGeocoded = "already geocoded"
	ReasonPreviouslyFail  = "previously failed"
)

// Attempt records what one provider returned.
type Attempt struct {
	Provider string         `json:"provider"`
	Status   geocode.Status `json:"status"`
	Calls    int            `json:"calls"`
	Error    string         `json:"error,omitempty"`
}

// Outcome describes what happened to one stakeholder.
type Outcome struct {
	StakeholderID uuid.UUID             `json:"stakeholder_id"`
	Status        OutcomeStatus         `json:"status"`
	Reason        string                `json:"reason,omitempty"`
	Source        string                `json:"source,omitempty"`
	Quality       string                `json:"quality,omitempty"`
	Location      *geo.Point            `json:"location,omitempty"`
	Districts     stakeholder.Districts `json:"districts"`
	Attempts      []Attempt             `json:"attempts,omitempty"`
	// Preserved is set when a failed re-geocode kept the prior location.
	Preserved bool `json:"preserved,omitempty"`
}

// Success reports whether the stakeholder now has a location from this call.
func (o *Outcome) Success() bool { return o.Status == OutcomeGeocoded }

// Service resolves addresses through an ordered provider list and persists
// the result. It is safe for concurrent use.
type Service struct {
	store     stakeholder.Store
	assigner  *geospatial.Assigner
	providers []geocode.Provider
	policy    resilience.Policy
	breakers  *resilience.Breakers
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets the per-provider retry policy.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBreakers guards each provider with a circuit breaker from r.
func WithBreakers(r *resilience.Breakers) Option {
	return func(s *Service) { s.breakers = r }
}

// WithClock overrides time.Now for geocoded_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. Providers are tried in the given order.
func NewService(store stakeholder.Store, assigner *geospatial.Assigner, providers []geocode.Provider, opts ...Option) *Service {
	s := &Service{
		store:     store,
		assigner:  assigner,
		providers: providers,
		policy:    resilience.DefaultPolicy(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Providers returns the provider names in priority order.
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// GeocodeByID loads a stakeholder and runs GeocodeAndAssignDistricts.
func (s *Service) GeocodeByID(ctx context.Context, id uuid.UUID, opts Options) (*Outcome, error) {
	st, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GeocodeAndAssignDistricts(ctx, st, opts)
}

// GeocodeAndAssignDistricts geocodes st, computes its districts and writes
// both in one update. Exhausting every provider is an outcome, not an
// error. A failed write for st is returned as *RecordError; any other
// error is a configuration or region store fault that should stop a batch.
// st is updated to match what was persisted.
func (s *Service) GeocodeAndAssignDistricts(ctx context.Context, st *stakeholder.Stakeholder, opts Options) (*Outcome, error) {
	out := &Outcome{StakeholderID: st.ID}

	addr, err := st.Validate()
	if err != nil {
		out.Status = OutcomeSkipped
		out.Reason = incompleteReason(err)
		return out, nil
	}
	if st.Location != nil && !opts.Force {
		out.Status = OutcomeSkipped
		out.Reason = ReasonAlreadyGeocoded
		return out, nil
	}
	if st.Location == nil && st.GeocodingFailed && !opts.Retry && !opts.Force {
		out.Status = OutcomeSkipped
		out.Reason = ReasonPreviouslyFail
		return out, nil
	}

	res, attempts, err := s.Resolve(ctx, *addr)
	out.Attempts = attempts
	if err != nil {
		return out, err
	}

	if res == nil {
		return s.fail(ctx, st, out, opts)
	}
	return s.succeed(ctx, st, out, res)
}

// Resolve runs the provider chain for addr without persisting anything. It
// returns nil when no provider produced a match.
func (s *Service) Resolve(ctx context.Context, addr address.Address) (*geocode.Result, []Attempt, error) {
	if len(s.providers) == 0 {
		return nil, nil, eris.Wrap(geocode.ErrNotConfigured, "geocoding: no providers")
	}
	in := geocode.AddressInput{Street: addr.Street, City: addr.City, State: addr.State, ZipCode: addr.ZipCode}

	attempts := make([]Attempt, 0, len(s.providers))
	for _, p := range s.providers {
		res, calls, err := s.call(ctx, p, in)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: p.Name(), Calls: calls, Error: err.Error()})
			return nil, attempts, eris.Wrapf(err, "geocoding: provider %s", p.Name())
		}
		a := Attempt{Provider: p.Name(), Status: res.Status, Calls: calls}
		if res.Err != nil {
			a.Error = res.Err.Error()
		}
		attempts = append(attempts, a)
		if res.Matched() {
			return res, attempts, nil
		}
	}
	return nil, attempts, nil
}

// call runs one provider with retries for transient outcomes only. A
// transient result is converted to an error so the retry loop and the
// breaker see it; permanent outcomes return after one call.
func (s *Service) call(ctx context.Context, p geocode.Provider, in geocode.AddressInput) (*geocode.Result, int, error) {
	policy := s.policy
	policy.OnRetry = resilience.LogRetries(p.Name(), "geocode")

	var calls int
	attempt := func(ctx context.Context) (*geocode.Result, error) {
		res, n, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*geocode.Result, error) {
			r, err := p.Geocode(ctx, in)
			if err != nil {
				return nil, err
			}
			if r.Status == geocode.StatusTransient {
				return r, resilience.NewTransientError(r.Err, 0)
			}
			return r, nil
		})
		calls = n
		return res, err
	}

	var (
		res *geocode.Result
		err error
	)
	if s.breakers != nil {
		res, err = resilience.Call(ctx, s.breakers.Get(p.Name()), attempt)
	} else {
		res, err = attempt(ctx)
	}

	switch {
	case err == nil:
		return res, calls, nil
	case errors.Is(err, geocode.ErrNotConfigured):
		return nil, calls, err
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &geocode.Result{Status: geocode.StatusTransient, Source: p.Name(), Err: err}, 0, nil
	}
	if res == nil || res.Status != geocode.StatusTransient {
		res = &geocode.Result{Status: geocode.StatusTransient, Source: p.Name(), Err: err}
	}
	return res, calls, nil
}

func (s *Service) succeed(ctx context.Context, st *stakeholder.Stakeholder, out *Outcome, res *geocode.Result) (*Outcome, error) {
	pt := res.Point
	districts, err := s.assigner.Compute(ctx, &pt)
	if err != nil {
		return out, eris.Wrapf(err, "geocoding: districts for %s", st.ID)
	}

	at := s.now().UTC()
	u := stakeholder.GeocodeUpdate{
		Location:  &pt,
		Source:    res.Source,
		Quality:   res.Quality,
		At:        &at,
		Districts: districts,
	}
	if err := s.store.SaveGeocode(ctx, st.ID, u); err != nil {
		return out, &RecordError{StakeholderID: st.ID, Err: err}
	}
	u.Apply(st)

	out.Status = OutcomeGeocoded
	out.Source = res.Source
	out.Quality = res.Quality
	out.Location = &pt
	out.Districts = districts
	zap.L().Debug("geocoding: stakeholder geocoded",
		zap.String("stakeholder_id", st.ID.String()),
		zap.String("source", res.Source),
		zap.Bool("cached", res.Cached),
	)
	return out, nil
}

func (s *Service) fail(ctx context.Context, st *stakeholder.Stakeholder, out *Outcome, opts Options) (*Outcome, error) {
	out.Status = OutcomeFailed
	out.Reason = failureReason(out.Attempts)

	if st.Location != nil && !opts.ClearOnFailure {
		out.Preserved = true
		out.Location = st.Location
		out.Districts = st.Districts
		return out, nil
	}

	u := stakeholder.GeocodeUpdate{Failed: true}
	if err := s.store.SaveGeocode(ctx, st.ID, u); err != nil {
		return out, &RecordError{StakeholderID: st.ID, Err: err}
	}
	u.Apply(st)
	return out, nil
}

func incompleteReason(err error) string {
	var inc *address.IncompleteAddressError
	if errors.As(err, &inc) {
		return ReasonIncomplete + ": " + strings.Join(inc.FieldNames(), ", ")
	}
	return ReasonIncomplete
}

// failureReason summarizes provider outcomes, e.g. "tiger: no_match; census: transient".
func failureReason(attempts []Attempt) string {
	parts := make([]string, len(attempts))
	for i, a := range attempts {
		parts[i] = a.Provider + ": " + string(a.Status)
	}
	return strings.Join(parts, "; ")
}
