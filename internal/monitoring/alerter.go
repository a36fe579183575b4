package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertGeocodeFailureRate AlertType = "geocode_failure_rate"
	AlertPendingBacklog     AlertType = "pending_backlog"
	AlertCircuitOpen        AlertType = "provider_circuit_open"
)

// minAttempted keeps a handful of early failures from tripping the rate alert.
const minAttempted = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	attempted := snap.Geocoded + snap.Failed
	if attempted >= minAttempted && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertGeocodeFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Geocode failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100, snap.Failed, attempted,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"attempted":    attempted,
			},
			Timestamp: now,
		})
	}

	if a.cfg.PendingThreshold > 0 && snap.Pending > a.cfg.PendingThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPendingBacklog,
			Severity: "medium",
			Message:  fmt.Sprintf("%d stakeholders pending geocode (threshold %d)", snap.Pending, a.cfg.PendingThreshold),
			Details: map[string]any{
				"pending":   snap.Pending,
				"threshold": a.cfg.PendingThreshold,
			},
			Timestamp: now,
		})
	}

	if len(snap.OpenCircuits) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   "Geocoding provider circuit open: " + strings.Join(snap.OpenCircuits, ", "),
			Details:   map[string]any{"providers": snap.OpenCircuits},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and, when a webhook is configured, posts each
// one to it. Returns the number delivered to the webhook.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: "+alert.Message,
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
