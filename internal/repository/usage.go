package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/models"
	"github.com/aman-churiwal/chat-gateway/internal/period"
	"github.com/aman-churiwal/chat-gateway/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageRepository struct {
	db *storage.Database
}

func NewUsageRepository(db *storage.Database) *UsageRepository {
	return &UsageRepository{db: db}
}

// Find returns the usage row for the period, or nil if none exists yet.
func (r *UsageRepository) Find(ctx context.Context, userID int64, p period.Period) (*models.TokenUsage, error) {
	return findUsage(r.db.DB.WithContext(ctx), userID, p)
}

// GetOrCreate returns the period row, inserting a zero row if it is missing.
// Concurrent callers racing to insert all end up with the same row.
func (r *UsageRepository) GetOrCreate(ctx context.Context, userID int64, p period.Period) (*models.TokenUsage, error) {
	return getOrCreateUsage(r.db.DB.WithContext(ctx), userID, p)
}

// AddUsage adds tokens to the period row and bumps its request count while
// holding a row lock, so concurrent deductions serialise instead of
// overwriting each other. lockTimeout bounds the wait for the lock on
// Postgres; zero leaves the server default.
func (r *UsageRepository) AddUsage(ctx context.Context, userID int64, p period.Period, tokens int64, lockTimeout time.Duration) (*models.TokenUsage, error) {
	var usage *models.TokenUsage

	err := r.db.Transaction(ctx, func(tx *gorm.DB) error {
		if lockTimeout > 0 && r.db.IsPostgres() {
			// SET LOCAL does not take bind parameters.
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}

		row, err := lockUsage(tx, userID, p)
		if err != nil {
			return err
		}
		if row == nil {
			if _, err := getOrCreateUsage(tx, userID, p); err != nil {
				return err
			}
			if row, err = lockUsage(tx, userID, p); err != nil {
				return err
			}
			if row == nil {
				return fmt.Errorf("usage row for user %d %s vanished", userID, p)
			}
		}

		row.TokensUsed += tokens
		row.RequestCount++

		err = tx.Model(row).Updates(map[string]interface{}{
			"tokens_used":   row.TokensUsed,
			"request_count": row.RequestCount,
		}).Error
		if err != nil {
			return err
		}

		usage = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	return usage, nil
}

// ListByUser returns a user's rows, newest period first.
func (r *UsageRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.TokenUsage, error) {
	var rows []models.TokenUsage
	err := r.db.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("year DESC, month DESC").
		Limit(limit).
		Find(&rows).Error

	return rows, err
}

func findUsage(db *gorm.DB, userID int64, p period.Period) (*models.TokenUsage, error) {
	var usage models.TokenUsage
	err := db.
		Where("user_id = ? AND year = ? AND month = ?", userID, p.Year, int(p.Month)).
		Take(&usage).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &usage, nil
}

func lockUsage(tx *gorm.DB, userID int64, p period.Period) (*models.TokenUsage, error) {
	return findUsage(tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), userID, p)
}

func getOrCreateUsage(db *gorm.DB, userID int64, p period.Period) (*models.TokenUsage, error) {
	usage, err := findUsage(db, userID, p)
	if err != nil || usage != nil {
		return usage, err
	}

	row := &models.TokenUsage{
		UserID: userID,
		Year:   p.Year,
		Month:  int(p.Month),
	}

	// Inside a transaction this runs under a savepoint, so a lost race does
	// not abort the surrounding work.
	err = db.Transaction(func(inner *gorm.DB) error {
		return inner.Create(row).Error
	})
	if err == nil {
		return row, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}

	usage, err = findUsage(db, userID, p)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, fmt.Errorf("usage row for user %d %s missing after duplicate insert", userID, p)
	}

	return usage, nil
}
