// Package metrics holds the Prometheus collectors for admission control.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionsTotal counts admission decisions by outcome.
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_admissions_total",
			Help: "Admission decisions by outcome (allowed, rate_limited, quota_exceeded, error)",
		},
		[]string{"outcome"},
	)

	// RateLimitChecksTotal counts limiter checks by backend that served them.
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ratelimit_checks_total",
			Help: "Rate limit checks by backend (coordinated, local, fail_open)",
		},
		[]string{"backend"},
	)

	// CoordinationFailuresTotal counts errors from the shared rate limit store.
	CoordinationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ratelimit_coordination_failures_total",
			Help: "Errors talking to the shared rate limit store",
		},
	)

	// TokensDeductedTotal counts tokens recorded in the ledger by tier.
	TokensDeductedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_tokens_deducted_total",
			Help: "Tokens deducted from monthly quotas",
		},
		[]string{"tier"},
	)

	// LedgerWriteFailuresTotal counts deductions that could not be committed.
	LedgerWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ledger_write_failures_total",
			Help: "Ledger deductions that failed after retries",
		},
	)

	// LedgerRetriesTotal counts retried ledger transactions.
	LedgerRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ledger_retries_total",
			Help: "Ledger transactions retried after lock timeout or serialization failure",
		},
	)
)
