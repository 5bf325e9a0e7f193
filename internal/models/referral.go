package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Referral is the edge referrer -> referred, created once when the referred user registers
type Referral struct {
	ID           int64           `json:"id" db:"id"`
	ReferrerID   int64           `json:"referrer_id" db:"referrer_id"`
	ReferredID   int64           `json:"referred_id" db:"referred_id"`
	RewardEarned decimal.Decimal `json:"reward_earned" db:"reward_earned"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// ReferralSummary aggregates the edges where a user is the referrer
type ReferralSummary struct {
	TotalReferrals int64           `json:"total_referrals"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
}
