// Package models provides the persisted ledger entities.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a wallet-identified ledger account
type User struct {
	ID               int64           `json:"id" db:"id"`
	WalletAddress    string          `json:"wallet_address" db:"wallet_address"`
	TelegramID       *int64          `json:"telegram_id" db:"telegram_id"`
	ReferralCode     string          `json:"referral_code" db:"referral_code"`
	ReferredBy       *string         `json:"-" db:"referred_by"`
	Balance          decimal.Decimal `json:"balance" db:"balance"`
	TotalStaked      decimal.Decimal `json:"total_staked" db:"total_staked"`
	TotalEarned      decimal.Decimal `json:"total_earned" db:"total_earned"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings" db:"referral_earnings"`
	CreatedAt        time.Time       `json:"-" db:"created_at"`
	UpdatedAt        time.Time       `json:"-" db:"updated_at"`
}

// Clone returns a deep copy
func (u *User) Clone() *User {
	c := *u
	if u.TelegramID != nil {
		id := *u.TelegramID
		c.TelegramID = &id
	}
	if u.ReferredBy != nil {
		code := *u.ReferredBy
		c.ReferredBy = &code
	}
	return &c
}
