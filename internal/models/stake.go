package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/types"
)

// Stake is a locked principal accruing a fixed daily reward until EndDate
type Stake struct {
	ID          int64               `json:"id" db:"id"`
	UserID      int64               `json:"user_id" db:"user_id"`
	Amount      decimal.Decimal     `json:"amount" db:"amount"`
	APY         decimal.Decimal     `json:"apy" db:"apy"`
	DailyReward decimal.Decimal     `json:"daily_reward" db:"daily_reward"`
	StartDate   time.Time           `json:"start_date" db:"start_date"`
	EndDate     time.Time           `json:"end_date" db:"end_date"`
	Status      types.StakeStatus   `json:"status" db:"status"`
	TotalReward decimal.NullDecimal `json:"total_reward" db:"total_reward"`
	WithdrawnAt *time.Time          `json:"withdrawn_at,omitempty" db:"withdrawn_at"`
}

// IsActive reports whether the stake can still be closed
func (s *Stake) IsActive() bool {
	return s.Status == types.StakeStatusActive
}

// IsMatured reports whether the fixed term has ended at now
func (s *Stake) IsMatured(now time.Time) bool {
	return !now.Before(s.EndDate)
}

// Clone returns a deep copy
func (s *Stake) Clone() *Stake {
	c := *s
	if s.WithdrawnAt != nil {
		at := *s.WithdrawnAt
		c.WithdrawnAt = &at
	}
	return &c
}
