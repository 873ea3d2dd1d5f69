package service

import (
	"fmt"

	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/aman-churiwal/chat-gateway/internal/repository"
)

// QuotaExceededError is returned by Precheck when the period's budget is spent.
type QuotaExceededError struct {
	Used      int64
	Limit     int64
	ResetDate string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly token quota exceeded: used %d of %d, resets %s", e.Used, e.Limit, e.ResetDate)
}

// LedgerWriteError means a ledger operation could not complete. It is never
// swallowed: losing a deduction under-counts consumption.
type LedgerWriteError struct {
	UserID int64
	Period period.Period
	Op     string
	Err    error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger %s for user %d period %s: %v", e.Op, e.UserID, e.Period, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

// Retryable reports whether running the operation again may succeed.
func (e *LedgerWriteError) Retryable() bool {
	return repository.IsRetryable(e.Err)
}
