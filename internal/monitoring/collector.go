package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

// MetricsSnapshot holds a point-in-time view of negotiation health.
type MetricsSnapshot struct {
	// Threads touched within the lookback window.
	ThreadsTotal     int                        `json:"threads_total"`
	ThreadsByStatus  map[model.ThreadStatus]int `json:"threads_by_status"`
	ThreadsEscalated int                        `json:"threads_escalated"`
	ThreadsExpired   int                        `json:"threads_expired"`
	ThreadsClosed    int                        `json:"threads_closed"`
	EscalationShare  float64                    `json:"escalation_share"`
	ExpiredShare     float64                    `json:"expired_share"`

	// Outcomes recorded within the lookback window.
	Outcomes    int     `json:"outcomes"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	DealValue   float64 `json:"deal_value"`

	// Open review queue, regardless of age.
	PendingApprovals int `json:"pending_approvals"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the document store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of negotiation metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		ThreadsByStatus: make(map[model.ThreadStatus]int),
		LookbackHours:   lookbackHours,
		CollectedAt:     now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	docs, err := c.store.Query(ctx, store.CollectionThreads, store.Query{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list threads")
	}
	for _, d := range docs {
		var s model.ThreadState
		if err := d.Decode(&s); err != nil {
			continue
		}
		if s.LastUpdated.Before(cutoff) {
			continue
		}
		snap.ThreadsTotal++
		snap.ThreadsByStatus[s.Status]++
		switch s.Status {
		case model.ThreadStatusEscalated:
			snap.ThreadsEscalated++
		case model.ThreadStatusExpired:
			snap.ThreadsExpired++
		case model.ThreadStatusCompleted:
			snap.ThreadsClosed++
		}
	}
	if snap.ThreadsTotal > 0 {
		snap.EscalationShare = float64(snap.ThreadsEscalated) / float64(snap.ThreadsTotal)
	}
	if finished := snap.ThreadsClosed + snap.ThreadsExpired; finished > 0 {
		snap.ExpiredShare = float64(snap.ThreadsExpired) / float64(finished)
	}

	docs, err = c.store.Query(ctx, store.CollectionOutcomes, store.Query{
		Conditions: []store.Condition{store.Where("recorded_unix", store.OpGte, cutoff.Unix())},
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list outcomes")
	}
	for _, d := range docs {
		var oc model.NegotiationOutcome
		if err := d.Decode(&oc); err != nil {
			continue
		}
		snap.Outcomes++
		if oc.DealClosed || oc.Outcome.Agreed() {
			snap.Successes++
			snap.DealValue += oc.DealValue
		}
	}
	if snap.Outcomes > 0 {
		snap.SuccessRate = float64(snap.Successes) / float64(snap.Outcomes)
	}

	docs, err = c.store.Query(ctx, store.CollectionApprovals, store.Query{
		Conditions: []store.Condition{store.Where("resolved", store.OpEq, false)},
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count approvals")
	}
	snap.PendingApprovals = len(docs)

	return snap, nil
}
