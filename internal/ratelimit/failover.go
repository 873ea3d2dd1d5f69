package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/chat-gateway/internal/metrics"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

const (
	BackendCoordinated = "coordinated"
	BackendLocal       = "local"
	backendFailOpen    = "fail_open"
)

// FailoverLimiter prefers the coordinated limiter and falls back to the local
// one while the shared store is unavailable. A store error on the request
// that discovers it fails open: the request is allowed with full headroom.
type FailoverLimiter struct {
	coordinated Limiter
	local       Limiter
	breaker     *circuitbreaker.CircuitBreaker
	clock       clock.PassiveClock
}

type FailoverConfig struct {
	// ReprobeInterval is how long the local limiter is used before the
	// coordinated one is tried again.
	ReprobeInterval time.Duration
	Clock           clock.PassiveClock
}

// NewFailoverLimiter builds the selection policy. coordinated may be nil when
// no shared store is configured.
func NewFailoverLimiter(coordinated, local Limiter, cfg FailoverConfig) *FailoverLimiter {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	f := &FailoverLimiter{
		coordinated: coordinated,
		local:       local,
		clock:       cfg.Clock,
	}
	f.breaker = circuitbreaker.New(circuitbreaker.Config{
		MaxFailures:   1,
		Timeout:       cfg.ReprobeInterval,
		Clock:         cfg.Clock,
		OnStateChange: f.logTransition,
	})
	return f
}

func (f *FailoverLimiter) Check(ctx context.Context, key string) (Decision, error) {
	if f.coordinated == nil {
		metrics.RateLimitChecksTotal.WithLabelValues(BackendLocal).Inc()
		return f.local.Check(ctx, key)
	}

	var (
		decision Decision
		ctxErr   error
	)
	err := f.breaker.Call(func() error {
		d, err := f.coordinated.Check(ctx, key)
		if err != nil {
			// The caller going away says nothing about the store.
			if ctxErr = ctx.Err(); ctxErr != nil {
				return circuitbreaker.Ignore(err)
			}
			return err
		}
		decision = d
		return nil
	})

	switch {
	case ctxErr != nil:
		return Decision{}, ctxErr
	case err == nil:
		metrics.RateLimitChecksTotal.WithLabelValues(BackendCoordinated).Inc()
		return decision, nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		metrics.RateLimitChecksTotal.WithLabelValues(BackendLocal).Inc()
		return f.local.Check(ctx, key)
	default:
		metrics.CoordinationFailuresTotal.Inc()
		metrics.RateLimitChecksTotal.WithLabelValues(backendFailOpen).Inc()
		log.Warn().Err(err).Str("user_id", key).Msg("Rate limit store unavailable, failing open")
		return allowDecision(f.Limit(), f.Limit(), f.Window(), f.clock.Now()), nil
	}
}

// Reprobe returns to the coordinated limiter immediately, for use when an
// out-of-band health check sees the store answering again.
func (f *FailoverLimiter) Reprobe() {
	if f.coordinated != nil {
		f.breaker.Reset()
	}
}

// Backend names the limiter currently serving checks.
func (f *FailoverLimiter) Backend() string {
	if f.coordinated == nil || f.breaker.State() == circuitbreaker.StateOpen {
		return BackendLocal
	}
	return BackendCoordinated
}

// Breaker exposes the availability state for status endpoints.
func (f *FailoverLimiter) Breaker() circuitbreaker.Metrics {
	return f.breaker.Metrics()
}

func (f *FailoverLimiter) Limit() int {
	return f.local.Limit()
}

func (f *FailoverLimiter) Window() time.Duration {
	return f.local.Window()
}

func (f *FailoverLimiter) logTransition(from, to circuitbreaker.State) {
	switch to {
	case circuitbreaker.StateOpen:
		log.Warn().Str("from", from.String()).Msg("Switching to local rate limiter")
	case circuitbreaker.StateClosed:
		log.Info().Str("from", from.String()).Msg("Coordinated rate limiter restored")
	}
}
