package monitoring

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically snapshots geocoding health for one state scope and
// posts any alerts the snapshot triggers.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker. cfg.State narrows every
// snapshot to one state; empty watches all stakeholders.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Scope is the state code every snapshot is limited to, or "" for all.
func (c *Checker) Scope() string {
	return strings.ToUpper(strings.TrimSpace(c.cfg.State))
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

func (c *Checker) logger() *zap.Logger {
	scope := c.Scope()
	if scope == "" {
		scope = "all"
	}
	return zap.L().With(
		zap.String("component", "geocode.health"),
		zap.String("state_scope", scope),
	)
}

// Run checks geocoding health on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	log := c.logger()
	log.Info("geocode health checks scheduled", zap.Duration("every", every))

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var rounds int
	for {
		select {
		case <-ctx.Done():
			log.Info("geocode health checks stopped", zap.Int("rounds", rounds))
			return
		case <-ticker.C:
			rounds++
			c.Check(ctx)
		}
	}
}

// Check takes one health snapshot for the configured scope and sends the
// alerts it triggers, which it also returns.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := c.logger()
	snap, err := c.collector.Collect(ctx, c.Scope())
	if err != nil {
		log.Error("geocode health snapshot failed", zap.Error(err))
		return nil
	}
	log = log.With(
		zap.Int("pending", snap.Pending),
		zap.Int("failed", snap.Failed),
		zap.Float64("fail_rate", snap.FailRate),
		zap.Strings("open_circuits", snap.OpenCircuits),
	)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("geocode health within thresholds")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("geocode health thresholds crossed",
		zap.Int("alerts", len(alerts)),
		zap.Int("delivered", sent),
	)
	return alerts
}
