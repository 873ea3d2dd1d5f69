package models

import "strconv"

// Identity is the authenticated caller as produced by the auth layer.
type Identity struct {
	UserID int64 `json:"user_id"`
	Tier   Tier  `json:"subscription_tier"`
}

// Key is the identifier used for per-user rate limiting.
func (i Identity) Key() string {
	return strconv.FormatInt(i.UserID, 10)
}

// MonthlyTokenLimit returns the caller's token budget for one period.
func (i Identity) MonthlyTokenLimit() int64 {
	return i.Tier.MonthlyTokenLimit()
}
