// Package ratelimit implements the per-user sliding-window request limiter.
//
// Two backends share the Limiter contract: SlidingWindowLimiter keeps the
// window in Redis and is correct across instances, LocalLimiter keeps it in
// process memory. FailoverLimiter chooses between them at request time.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrCoordinationUnavailable marks a failure of the shared rate limit store.
var ErrCoordinationUnavailable = errors.New("rate limit coordination store unavailable")

// Limiter admits or denies requests per key against a fixed request budget
// over a sliding window.
type Limiter interface {
	// Check records a request for key if the window has room and reports the
	// outcome. A denied request is not recorded.
	Check(ctx context.Context, key string) (Decision, error)

	Limit() int

	Window() time.Duration
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetIn is the retry hint for denied requests (time until the oldest
	// request leaves the window) and the window length for allowed ones.
	ResetIn time.Duration
	// ResetAt is the absolute instant matching ResetIn.
	ResetAt time.Time
}

// ResetInSeconds rounds ResetIn up to whole seconds, never below 1.
func (d Decision) ResetInSeconds() int {
	return ceilSeconds(d.ResetIn)
}

func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func allowDecision(limit, remaining int, window time.Duration, now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   window,
		ResetAt:   now.Add(window),
	}
}

func denyDecision(limit int, resetIn time.Duration, now time.Time) Decision {
	resetIn = time.Duration(ceilSeconds(resetIn)) * time.Second
	return Decision{
		Allowed: false,
		Limit:   limit,
		ResetIn: resetIn,
		ResetAt: now.Add(resetIn),
	}
}
