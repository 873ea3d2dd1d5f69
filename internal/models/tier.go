package models

import (
	"fmt"
	"strings"
)

// Tier is a subscription level that decides the monthly token budget.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// TierTokenLimits is the monthly token budget per tier.
var TierTokenLimits = map[Tier]int64{
	TierFree:     30_000,
	TierStandard: 300_000,
	TierPro:      1_000_000,
}

// Tiers lists the known tiers in ascending order.
var Tiers = []Tier{TierFree, TierStandard, TierPro}

// ParseTier converts a claim or config value into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := TierTokenLimits[t]; !ok {
		return "", fmt.Errorf("unknown subscription tier %q", s)
	}
	return t, nil
}

// MonthlyTokenLimit returns the token budget for the tier.
// Unknown tiers get the free budget.
func (t Tier) MonthlyTokenLimit() int64 {
	if limit, ok := TierTokenLimits[t]; ok {
		return limit
	}
	return TierTokenLimits[TierFree]
}

func (t Tier) String() string {
	return string(t)
}
