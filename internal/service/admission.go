package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/chat-gateway/internal/metrics"
	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/aman-churiwal/chat-gateway/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

type Outcome int

const (
	Allowed Outcome = iota
	RateLimited
	QuotaExceeded
)

// Machine-readable codes returned to clients for denied requests.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeQuotaExceeded     = "quota_exceeded"
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case RateLimited:
		return "rate_limited"
	case QuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Code is the client-facing error code, empty for Allowed.
func (o Outcome) Code() string {
	switch o {
	case RateLimited:
		return CodeRateLimitExceeded
	case QuotaExceeded:
		return CodeQuotaExceeded
	default:
		return ""
	}
}

// AdmissionResult is the gate's answer for one request. The rate limit
// fields are always populated so callers can set response headers on every
// attempt.
type AdmissionResult struct {
	Outcome Outcome

	RateLimit      int
	RateRemaining  int
	RateResetUnix  int64
	RetryAfterSecs int

	// Set when the quota precheck ran.
	Headroom *Headroom
	// Set when Outcome is QuotaExceeded.
	Quota *QuotaExceededError
}

func (r *AdmissionResult) Allowed() bool {
	return r.Outcome == Allowed
}

// Consumption is what a completed request cost and where it left the user.
type Consumption struct {
	TokensThisRequest int64
	TokensUsed        int64
	TokensRemaining   int64
	TokensLimit       int64
}

// AdmissionGate runs the rate check and the quota precheck in order before
// a metered call, and records the call's consumption afterwards. It holds no
// state of its own.
type AdmissionGate struct {
	limiter ratelimit.Limiter
	quota   *QuotaService
}

func NewAdmissionGate(limiter ratelimit.Limiter, quota *QuotaService) *AdmissionGate {
	return &AdmissionGate{
		limiter: limiter,
		quota:   quota,
	}
}

// Admit decides whether the request may proceed. Denials are reported in the
// result, not as errors; an error means the request could not be evaluated.
func (g *AdmissionGate) Admit(ctx context.Context, id models.Identity) (*AdmissionResult, error) {
	decision, err := g.limiter.Check(ctx, id.Key())
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	result := &AdmissionResult{
		RateLimit:     decision.Limit,
		RateRemaining: decision.Remaining,
		RateResetUnix: decision.ResetAt.Unix(),
	}

	if !decision.Allowed {
		result.Outcome = RateLimited
		result.RetryAfterSecs = decision.ResetInSeconds()
		metrics.AdmissionsTotal.WithLabelValues(result.Outcome.String()).Inc()
		log.Debug().
			Int64("user_id", id.UserID).
			Int("retry_after", result.RetryAfterSecs).
			Msg("Rate limit exceeded")
		return result, nil
	}

	headroom, err := g.quota.Precheck(ctx, id)
	var exceeded *QuotaExceededError
	switch {
	case errors.As(err, &exceeded):
		result.Outcome = QuotaExceeded
		result.Quota = exceeded
		metrics.AdmissionsTotal.WithLabelValues(result.Outcome.String()).Inc()
		log.Info().
			Int64("user_id", id.UserID).
			Str("tier", id.Tier.String()).
			Int64("used", exceeded.Used).
			Int64("limit", exceeded.Limit).
			Msg("Monthly quota exceeded")
		return result, nil
	case err != nil:
		return nil, err
	}

	// Requests are admitted while any budget remains, so the last one of the
	// month may overshoot by up to the per-request ceiling.
	if headroom.Remaining < int64(g.quota.MaxTokensPerRequest()) {
		log.Warn().
			Int64("user_id", id.UserID).
			Int64("remaining", headroom.Remaining).
			Int("ceiling", g.quota.MaxTokensPerRequest()).
			Msg("Quota nearly exhausted")
	}

	result.Outcome = Allowed
	result.Headroom = headroom
	metrics.AdmissionsTotal.WithLabelValues(result.Outcome.String()).Inc()

	return result, nil
}

// RecordConsumption deducts the tokens a completed call actually used.
// Failures are returned to the caller and must not be ignored.
func (g *AdmissionGate) RecordConsumption(ctx context.Context, id models.Identity, tokens int64) (*Consumption, error) {
	if tokens < 0 {
		return nil, fmt.Errorf("negative token count %d", tokens)
	}

	row, err := g.quota.Deduct(ctx, id, tokens)
	if err != nil {
		return nil, err
	}

	limit := id.MonthlyTokenLimit()
	return &Consumption{
		TokensThisRequest: tokens,
		TokensUsed:        row.TokensUsed,
		TokensRemaining:   remaining(limit, row.TokensUsed),
		TokensLimit:       limit,
	}, nil
}
