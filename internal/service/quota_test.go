package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestPrecheck_NewUserHasFullBudget(t *testing.T) {
	f := newFixture(t, midJune)
	id := models.Identity{UserID: 1, Tier: models.TierFree}

	headroom, err := f.quota.Precheck(context.Background(), id)
	require.NoError(t, err)

	assert.Zero(t, headroom.Used)
	assert.EqualValues(t, 30_000, headroom.Limit)
	assert.EqualValues(t, 30_000, headroom.Remaining)
	assert.Equal(t, "2025-07-01", headroom.ResetDate)

	// The row exists but nothing was deducted.
	row, err := f.repo.Find(context.Background(), 1, period.For(midJune))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Zero(t, row.TokensUsed)
	assert.Zero(t, row.RequestCount)
}

func TestPrecheck_ConcurrentFirstCallsCreateOneRow(t *testing.T) {
	f := newFixture(t, midJune)
	id := models.Identity{UserID: 2, Tier: models.TierPro}

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.quota.Precheck(context.Background(), id)
			return err
		})
	}
	require.NoError(t, g.Wait())

	var n int64
	require.NoError(t, f.db.DB.Model(&models.TokenUsage{}).Where("user_id = ?", 2).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestDeduct_OvershootThenExceeded(t *testing.T) {
	f := newFixture(t, midJune)
	ctx := context.Background()
	id := models.Identity{UserID: 3, Tier: models.TierFree}
	f.seed(t, 3, 29_900)

	headroom, err := f.quota.Precheck(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 100, headroom.Remaining)

	row, err := f.quota.Deduct(ctx, id, 300)
	require.NoError(t, err)
	assert.EqualValues(t, 30_200, row.TokensUsed)

	stats, err := f.quota.UsageStats(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, stats.TokensRemaining)

	_, err = f.quota.Precheck(ctx, id)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.EqualValues(t, 30_200, exceeded.Used)
	assert.EqualValues(t, 30_000, exceeded.Limit)
	assert.Equal(t, "2025-07-01", exceeded.ResetDate)
}

func TestDeduct_ConcurrentSum(t *testing.T) {
	f := newFixture(t, midJune)
	id := models.Identity{UserID: 4, Tier: models.TierStandard}

	var g errgroup.Group
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			_, err := f.quota.Deduct(context.Background(), id, 17)
			return err
		})
	}
	require.NoError(t, g.Wait())

	stats, err := f.quota.UsageStats(context.Background(), id)
	require.NoError(t, err)
	assert.EqualValues(t, 30*17, stats.TokensUsed)
	assert.EqualValues(t, 30, stats.RequestCount)
}

func TestPrecheck_RolloverStartsFresh(t *testing.T) {
	f := newFixture(t, time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC))
	ctx := context.Background()
	id := models.Identity{UserID: 5, Tier: models.TierFree}
	f.seed(t, 5, 30_000)

	_, err := f.quota.Precheck(ctx, id)
	var exceeded *QuotaExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "2026-01-01", exceeded.ResetDate)

	f.clock.Step(2 * time.Minute)

	headroom, err := f.quota.Precheck(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, headroom.Used)
	assert.Equal(t, period.Period{Year: 2026, Month: time.January}, headroom.Period)
	assert.Equal(t, "2026-02-01", headroom.ResetDate)
}

func TestUsageStats(t *testing.T) {
	f := newFixture(t, midJune)
	ctx := context.Background()
	id := models.Identity{UserID: 6, Tier: models.TierFree}

	stats, err := f.quota.UsageStats(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, stats.TokensUsed)
	assert.Zero(t, stats.UsagePercentage)

	f.seed(t, 6, 10_000)

	stats, err = f.quota.UsageStats(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 10_000, stats.TokensUsed)
	assert.EqualValues(t, 20_000, stats.TokensRemaining)
	assert.EqualValues(t, 30_000, stats.TokensLimit)
	assert.EqualValues(t, 1, stats.RequestCount)
	assert.Equal(t, "free", stats.SubscriptionTier)
	assert.Equal(t, "2025-06", stats.Period)
	assert.Equal(t, "2025-07-01", stats.ResetsAt)
	assert.Equal(t, 33.3, stats.UsagePercentage)
}

func TestUsagePercentage(t *testing.T) {
	assert.Equal(t, 100.0, usagePercentage(5, 0))
	assert.Equal(t, 0.0, usagePercentage(0, 30_000))
	assert.Equal(t, 50.0, usagePercentage(150, 300))
	assert.Equal(t, 100.7, usagePercentage(30_200, 30_000))
}

func TestClampMaxTokens(t *testing.T) {
	f := newFixture(t, midJune)

	n := func(v int) *int { return &v }

	assert.Equal(t, 512, f.quota.ClampMaxTokens(nil))
	assert.Equal(t, 100, f.quota.ClampMaxTokens(n(100)))
	assert.Equal(t, 512, f.quota.ClampMaxTokens(n(4096)))
	assert.Equal(t, 512, f.quota.ClampMaxTokens(n(0)))
	assert.Equal(t, 512, f.quota.ClampMaxTokens(n(-3)))
}

func TestDeduct_LedgerFailureIsReported(t *testing.T) {
	f := newFixture(t, midJune)
	id := models.Identity{UserID: 7, Tier: models.TierFree}
	require.NoError(t, f.db.Close())

	_, err := f.quota.Deduct(context.Background(), id, 10)

	var lerr *LedgerWriteError
	require.ErrorAs(t, err, &lerr)
	assert.EqualValues(t, 7, lerr.UserID)
	assert.Equal(t, "deduct", lerr.Op)
	assert.Equal(t, "2025-06", lerr.Period.String())
	assert.False(t, lerr.Retryable())
	assert.NotNil(t, errors.Unwrap(err))
}
