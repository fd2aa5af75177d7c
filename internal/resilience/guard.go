package resilience

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Guard combines a rate limiter, a retry policy and a circuit breaker for
// one external service. A nil Limiter or Breaker is skipped.
type Guard struct {
	Service string
	Limiter *rate.Limiter
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewGuard builds a guard for service. ratePerSecond <= 0 disables limiting.
func NewGuard(service string, ratePerSecond float64, burst int, retry RetryConfig, breaker CircuitBreakerConfig) *Guard {
	g := &Guard{Service: service, Retry: retry}
	if ratePerSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.Limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	log := zap.L().With(zap.String("component", "resilience"), zap.String("service", service))
	breaker.OnStateChange = func(from, to CircuitState) {
		log.Warn("circuit breaker state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	g.Breaker = NewCircuitBreaker(breaker)
	if g.Retry.OnRetry == nil {
		g.Retry.OnRetry = RetryLogger(service, "call")
	}
	return g
}

// Call runs fn through the guard: breaker check, retries, and a limiter
// wait before every attempt.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if g.Limiter != nil {
			if err := g.Limiter.Wait(ctx); err != nil {
				var zero T
				return zero, eris.Wrapf(err, "%s: rate limit wait", g.Service)
			}
		}
		return fn(ctx)
	}
	if g.Breaker == nil {
		return DoVal(ctx, g.Retry, attempt)
	}
	return ExecuteVal(ctx, g.Breaker, func(ctx context.Context) (T, error) {
		return DoVal(ctx, g.Retry, attempt)
	})
}
