package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/negotiator/internal/model"
	"github.com/sells-group/negotiator/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// failingStore fails every query.
type failingStore struct{ store.Store }

func (failingStore) Query(context.Context, string, store.Query) ([]store.Document, error) {
	return nil, errors.New("connection refused")
}

func putThread(t *testing.T, st store.Store, id string, status model.ThreadStatus, updated time.Time) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.CollectionThreads, id, model.ThreadState{
		ThreadID:    id,
		Status:      status,
		Stage:       model.StageInitialContact,
		LastUpdated: updated,
	}, false))
}

func putOutcome(t *testing.T, st store.Store, id string, outcome model.Outcome, value float64, recorded time.Time) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.CollectionOutcomes, id, model.NegotiationOutcome{
		ThreadID:     id,
		Outcome:      outcome,
		DealClosed:   outcome == model.OutcomeDealClosed,
		DealValue:    value,
		RecordedAt:   recorded,
		RecordedUnix: recorded.Unix(),
	}, false))
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(newTestStore(t))

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.ThreadsTotal)
	assert.Equal(t, 0, snap.Outcomes)
	assert.Equal(t, 0.0, snap.SuccessRate)
	assert.Equal(t, 0.0, snap.ExpiredShare)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_NegotiationMetrics(t *testing.T) {
	now := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	st := newTestStore(t)
	ctx := context.Background()

	putThread(t, st, "a", model.ThreadStatusActive, now.Add(-time.Hour))
	putThread(t, st, "b", model.ThreadStatusEscalated, now.Add(-2*time.Hour))
	putThread(t, st, "c", model.ThreadStatusCompleted, now.Add(-3*time.Hour))
	putThread(t, st, "d", model.ThreadStatusExpired, now.Add(-4*time.Hour))
	// Outside lookback window.
	putThread(t, st, "e", model.ThreadStatusExpired, now.Add(-48*time.Hour))

	putOutcome(t, st, "c", model.OutcomeDealClosed, 1500, now.Add(-3*time.Hour))
	putOutcome(t, st, "f", model.OutcomeFailed, 0, now.Add(-5*time.Hour))
	putOutcome(t, st, "g", model.OutcomePriceAgreed, 900, now.Add(-6*time.Hour))
	putOutcome(t, st, "old", model.OutcomeFailed, 0, now.Add(-72*time.Hour))

	require.NoError(t, st.Set(ctx, store.CollectionApprovals, "b", model.ApprovalItem{ThreadID: "b"}, false))
	require.NoError(t, st.Set(ctx, store.CollectionApprovals, "x", model.ApprovalItem{ThreadID: "x", Resolved: true}, false))

	c := NewCollector(st)
	c.now = func() time.Time { return now }
	snap, err := c.Collect(ctx, 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.ThreadsTotal)
	assert.Equal(t, 1, snap.ThreadsByStatus[model.ThreadStatusActive])
	assert.Equal(t, 1, snap.ThreadsEscalated)
	assert.Equal(t, 1, snap.ThreadsExpired)
	assert.Equal(t, 1, snap.ThreadsClosed)
	assert.InDelta(t, 0.25, snap.EscalationShare, 0.001)
	assert.InDelta(t, 0.5, snap.ExpiredShare, 0.001)

	assert.Equal(t, 3, snap.Outcomes)
	assert.Equal(t, 2, snap.Successes)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 0.001)
	assert.InDelta(t, 2400, snap.DealValue, 0.001)

	assert.Equal(t, 1, snap.PendingApprovals)
}

func TestCollector_StoreError(t *testing.T) {
	c := NewCollector(failingStore{})

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list threads")
}
