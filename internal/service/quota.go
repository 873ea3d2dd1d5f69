package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/metrics"
	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/aman-churiwal/chat-gateway/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	opPrecheck = "precheck"
	opDeduct   = "deduct"
	opStats    = "usage_stats"

	defaultMaxTokensPerRequest = 512
	defaultMaxRetries          = 3
	retryBackoff               = 50 * time.Millisecond
)

type QuotaConfig struct {
	MaxTokensPerRequest int
	LockTimeout         time.Duration
	MaxRetries          int
	Clock               period.Clock
}

// QuotaService meters monthly token consumption per user against the tier's
// budget.
type QuotaService struct {
	usage               *repository.UsageRepository
	clock               period.Clock
	maxTokensPerRequest int
	lockTimeout         time.Duration
	maxRetries          int
}

func NewQuotaService(usage *repository.UsageRepository, cfg QuotaConfig) *QuotaService {
	if cfg.MaxTokensPerRequest <= 0 {
		cfg.MaxTokensPerRequest = defaultMaxTokensPerRequest
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return &QuotaService{
		usage:               usage,
		clock:               cfg.Clock,
		maxTokensPerRequest: cfg.MaxTokensPerRequest,
		lockTimeout:         cfg.LockTimeout,
		maxRetries:          cfg.MaxRetries,
	}
}

// Headroom is what is left of a user's budget for the current period.
type Headroom struct {
	Period    period.Period
	Used      int64
	Limit     int64
	Remaining int64
	ResetDate string
}

type UsageStats struct {
	TokensUsed       int64   `json:"tokens_used"`
	TokensRemaining  int64   `json:"tokens_remaining"`
	TokensLimit      int64   `json:"tokens_limit"`
	RequestCount     int64   `json:"request_count"`
	SubscriptionTier string  `json:"subscription_tier"`
	Period           string  `json:"period"`
	ResetsAt         string  `json:"resets_at"`
	UsagePercentage  float64 `json:"usage_percentage"`
}

// Precheck reports the user's headroom for the current period. It creates the
// period row if needed but never deducts. A spent budget is returned as
// *QuotaExceededError.
func (s *QuotaService) Precheck(ctx context.Context, id models.Identity) (*Headroom, error) {
	p := s.clock.Current()

	row, err := s.usage.GetOrCreate(ctx, id.UserID, p)
	if err != nil {
		return nil, &LedgerWriteError{UserID: id.UserID, Period: p, Op: opPrecheck, Err: err}
	}

	limit := id.MonthlyTokenLimit()
	if row.TokensUsed >= limit {
		return nil, &QuotaExceededError{
			Used:      row.TokensUsed,
			Limit:     limit,
			ResetDate: p.ResetDate(),
		}
	}

	return &Headroom{
		Period:    p,
		Used:      row.TokensUsed,
		Limit:     limit,
		Remaining: remaining(limit, row.TokensUsed),
		ResetDate: p.ResetDate(),
	}, nil
}

// Deduct records tokens against the current period. The amount is always
// applied, even when it takes the user past the limit. Lock timeouts,
// serialization failures and deadlocks are retried up to the configured
// number of attempts.
func (s *QuotaService) Deduct(ctx context.Context, id models.Identity, tokens int64) (*models.TokenUsage, error) {
	p := s.clock.Current()

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		row, err := s.usage.AddUsage(ctx, id.UserID, p, tokens, s.lockTimeout)
		if err == nil {
			metrics.TokensDeductedTotal.WithLabelValues(id.Tier.String()).Add(float64(tokens))
			return row, nil
		}

		lastErr = err
		if !repository.IsRetryable(err) || attempt == s.maxRetries {
			break
		}

		metrics.LedgerRetriesTotal.Inc()
		log.Warn().
			Err(err).
			Int64("user_id", id.UserID).
			Str("period", p.String()).
			Int("attempt", attempt).
			Msg("Retrying ledger deduction")

		if cerr := wait(ctx, retryBackoff*time.Duration(attempt)); cerr != nil {
			lastErr = errors.Join(err, cerr)
			break
		}
	}

	metrics.LedgerWriteFailuresTotal.Inc()
	werr := &LedgerWriteError{UserID: id.UserID, Period: p, Op: opDeduct, Err: lastErr}
	log.Error().
		Err(lastErr).
		Int64("user_id", id.UserID).
		Str("period", p.String()).
		Str("op", opDeduct).
		Int64("tokens", tokens).
		Msg("Ledger deduction failed")

	return nil, werr
}

// UsageStats summarises the current period for display. It does not create
// a row.
func (s *QuotaService) UsageStats(ctx context.Context, id models.Identity) (*UsageStats, error) {
	p := s.clock.Current()

	row, err := s.usage.Find(ctx, id.UserID, p)
	if err != nil {
		return nil, &LedgerWriteError{UserID: id.UserID, Period: p, Op: opStats, Err: err}
	}

	var used, requests int64
	if row != nil {
		used = row.TokensUsed
		requests = row.RequestCount
	}
	limit := id.MonthlyTokenLimit()

	return &UsageStats{
		TokensUsed:       used,
		TokensRemaining:  remaining(limit, used),
		TokensLimit:      limit,
		RequestCount:     requests,
		SubscriptionTier: id.Tier.String(),
		Period:           p.String(),
		ResetsAt:         p.ResetDate(),
		UsagePercentage:  usagePercentage(used, limit),
	}, nil
}

// ClampMaxTokens applies the server-side ceiling to a client's max_tokens.
func (s *QuotaService) ClampMaxTokens(requested *int) int {
	if requested == nil || *requested <= 0 || *requested > s.maxTokensPerRequest {
		return s.maxTokensPerRequest
	}
	return *requested
}

func (s *QuotaService) MaxTokensPerRequest() int {
	return s.maxTokensPerRequest
}

func (s *QuotaService) Clock() period.Clock {
	return s.clock
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func remaining(limit, used int64) int64 {
	return max(0, limit-used)
}

func usagePercentage(used, limit int64) float64 {
	if limit == 0 {
		return 100
	}
	return math.Round(float64(used)/float64(limit)*1000) / 10
}
