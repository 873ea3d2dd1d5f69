package models

import "time"

// TokenUsage is one user's consumption for one calendar month.
// A row is created lazily on the first check or deduction of the month and is
// never deleted.
type TokenUsage struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	UserID       int64     `gorm:"not null;uniqueIndex:uq_user_month,priority:1;index:ix_token_usage_user_period,priority:1" json:"user_id"`
	Year         int       `gorm:"not null;uniqueIndex:uq_user_month,priority:2;index:ix_token_usage_user_period,priority:2" json:"year"`
	Month        int       `gorm:"not null;uniqueIndex:uq_user_month,priority:3;index:ix_token_usage_user_period,priority:3" json:"month"`
	TokensUsed   int64     `gorm:"not null;default:0" json:"tokens_used"`
	RequestCount int64     `gorm:"not null;default:0" json:"request_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (TokenUsage) TableName() string {
	return "token_usage"
}
