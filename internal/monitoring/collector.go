// Package monitoring watches geocoding health and posts webhook alerts when
// failure rates, backlogs or provider circuits cross configured thresholds.
package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coalition-geo/internal/resilience"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
)

// MetricsSnapshot holds a point-in-time view of geocoding health.
type MetricsSnapshot struct {
	Total       int     `json:"total"`
	Unattempted int     `json:"unattempted"`
	Pending     int     `json:"pending"`
	Geocoded    int     `json:"geocoded"`
	Failed      int     `json:"failed"`
	FailRate    float64 `json:"fail_rate"`

	// OpenCircuits names providers whose breaker is currently open.
	OpenCircuits []string `json:"open_circuits,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// StatusCounter is the part of stakeholder.Store the collector reads.
type StatusCounter interface {
	CountByStatus(ctx context.Context, state string) (map[stakeholder.Status]int, error)
}

// Collector gathers metrics from the stakeholder store and provider breakers.
type Collector struct {
	store    StatusCounter
	breakers *resilience.Breakers
	now      func() time.Time
}

// NewCollector creates a metrics collector. breakers may be nil.
func NewCollector(st StatusCounter, breakers *resilience.Breakers) *Collector {
	return &Collector{store: st, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot, optionally limited to one state.
func (c *Collector) Collect(ctx context.Context, state string) (*MetricsSnapshot, error) {
	counts, err := c.store.CountByStatus(ctx, state)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}

	snap := &MetricsSnapshot{
		Unattempted: counts[stakeholder.StatusUnattempted],
		Pending:     counts[stakeholder.StatusPending],
		Geocoded:    counts[stakeholder.StatusGeocoded],
		Failed:      counts[stakeholder.StatusFailed],
		CollectedAt: c.now().UTC(),
	}
	snap.Total = snap.Unattempted + snap.Pending + snap.Geocoded + snap.Failed
	if attempted := snap.Geocoded + snap.Failed; attempted > 0 {
		snap.FailRate = float64(snap.Failed) / float64(attempted)
	}

	if c.breakers != nil {
		for name, st := range c.breakers.States() {
			if st == resilience.Open {
				snap.OpenCircuits = append(snap.OpenCircuits, name)
			}
		}
		sort.Strings(snap.OpenCircuits)
	}
	return snap, nil
}
