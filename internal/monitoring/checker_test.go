package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/negotiator/internal/config"
	"github.com/sells-group/negotiator/internal/model"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(newTestStore(t))
	cfg := config.MonitoringConfig{CheckIntervalMins: 1, LookbackHours: 24}
	checker := NewChecker(collector, NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	checker := NewChecker(NewCollector(newTestStore(t)), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, 24, checker.lookback())

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	st := newTestStore(t)
	now := time.Now().UTC()
	for _, id := range []string{"a", "b", "c"} {
		putOutcome(t, st, id, model.OutcomeFailed, 0, now.Add(-time.Hour))
	}

	cfg := config.MonitoringConfig{
		WebhookURL:          ts.URL,
		LookbackHours:       24,
		MinSuccessRate:      0.3,
		MinOutcomesForAlert: 3,
	}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowSuccessRate, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_CheckCollectFailure(t *testing.T) {
	cfg := config.MonitoringConfig{MinSuccessRate: 0.3}
	checker := NewChecker(NewCollector(failingStore{}), NewAlerter(cfg), cfg)
	assert.Nil(t, checker.Check(context.Background()))
}
