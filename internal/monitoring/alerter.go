package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/negotiator/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowSuccessRate  AlertType = "low_success_rate"
	AlertApprovalBacklog AlertType = "approval_backlog"
	AlertExpiredShare    AlertType = "expired_share"
)

// minFinishedForExpired is the sample size below which the expiry share is not alerted on.
const minFinishedForExpired = 5

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

	// Success rate needs a minimum sample before it means anything.
	minOutcomes := a.cfg.MinOutcomesForAlert
	if minOutcomes <= 0 {
		minOutcomes = 1
	}
	if a.cfg.MinSuccessRate > 0 && snap.Outcomes >= minOutcomes && snap.SuccessRate < a.cfg.MinSuccessRate {
		alerts = append(alerts, Alert{
			Type:     AlertLowSuccessRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Negotiation success rate %.1f%% is below %.1f%% (%d of %d outcomes in last %dh)",
				snap.SuccessRate*100, a.cfg.MinSuccessRate*100,
				snap.Successes, snap.Outcomes, snap.LookbackHours,
			),
			Details: map[string]any{
				"success_rate": snap.SuccessRate,
				"threshold":    a.cfg.MinSuccessRate,
				"successes":    snap.Successes,
				"outcomes":     snap.Outcomes,
			},
			Timestamp: now,
		})
	}

	if a.cfg.MaxPendingApprovals > 0 && snap.PendingApprovals > a.cfg.MaxPendingApprovals {
		alerts = append(alerts, Alert{
			Type:     AlertApprovalBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d negotiations are waiting for review (limit %d)",
				snap.PendingApprovals, a.cfg.MaxPendingApprovals,
			),
			Details: map[string]any{
				"pending":          snap.PendingApprovals,
				"limit":            a.cfg.MaxPendingApprovals,
				"escalation_share": snap.EscalationShare,
			},
			Timestamp: now,
		})
	}

	finished := snap.ThreadsClosed + snap.ThreadsExpired
	if a.cfg.MaxExpiredShare > 0 && finished >= minFinishedForExpired && snap.ExpiredShare > a.cfg.MaxExpiredShare {
		alerts = append(alerts, Alert{
			Type:     AlertExpiredShare,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of finished negotiations expired without an answer (%d of %d in last %dh)",
				snap.ExpiredShare*100, snap.ThreadsExpired, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"expired_share": snap.ExpiredShare,
				"threshold":     a.cfg.MaxExpiredShare,
				"expired":       snap.ThreadsExpired,
				"finished":      finished,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
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
