package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sells-group/negotiator/internal/config"
)

func TestFromConfig(t *testing.T) {
	retry, breaker := FromConfig(config.ResilienceConfig{
		MaxAttempts:      5,
		InitialBackoffMs: 100,
		MaxBackoffMs:     2000,
		FailureThreshold: 2,
		ResetTimeoutSecs: 10,
	})
	if retry.MaxAttempts != 5 || retry.InitialBackoff != 100*time.Millisecond || retry.MaxBackoff != 2*time.Second {
		t.Errorf("unexpected retry config: %+v", retry)
	}
	if breaker.FailureThreshold != 2 || breaker.ResetTimeout != 10*time.Second {
		t.Errorf("unexpected breaker config: %+v", breaker)
	}
}

func TestGuard_RetriesThenSucceeds(t *testing.T) {
	g := NewGuard("test", 0, 0, fastRetry(3), CircuitBreakerConfig{FailureThreshold: 5})

	var calls int
	v, err := Call(context.Background(), g, func(_ context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, NewTransientError(errors.New("flaky"))
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("got %d, %v", v, err)
	}
	if g.Breaker.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", g.Breaker.State())
	}
}

func TestGuard_OpensBreaker(t *testing.T) {
	g := NewGuard("test", 100, 1, fastRetry(1), CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		_, _ = Call(context.Background(), g, func(_ context.Context) (int, error) {
			return 0, errors.New("down")
		})
	}
	_, err := Call(context.Background(), g, func(_ context.Context) (int, error) {
		t.Error("should not be called")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestGuard_LimiterHonoursContext(t *testing.T) {
	g := NewGuard("test", 0.001, 1, fastRetry(1), DefaultCircuitBreakerConfig())
	// Drain the single token.
	_, _ = Call(context.Background(), g, func(_ context.Context) (int, error) { return 1, nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := Call(ctx, g, func(_ context.Context) (int, error) { return 1, nil })
	if err == nil {
		t.Fatal("expected limiter wait error")
	}
}
