package service

import (
	"context"
	"testing"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/aman-churiwal/chat-gateway/internal/repository"
	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type fixture struct {
	db    *storage.Database
	repo  *repository.UsageRepository
	quota *QuotaService
	clock *clocktesting.FakeClock
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()

	db, err := storage.Open(storage.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.AutoMigrate())

	clk := clocktesting.NewFakeClock(now)
	repo := repository.NewUsageRepository(db)

	return &fixture{
		db:   db,
		repo: repo,
		quota: NewQuotaService(repo, QuotaConfig{
			MaxTokensPerRequest: 512,
			LockTimeout:         time.Second,
			MaxRetries:          3,
			Clock:               period.NewClock(clk),
		}),
		clock: clk,
	}
}

func (f *fixture) seed(t *testing.T, userID int64, tokens int64) {
	t.Helper()

	p := period.For(f.clock.Now())
	_, err := f.repo.AddUsage(context.Background(), userID, p, tokens, 0)
	require.NoError(t, err)
}

var midJune = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
