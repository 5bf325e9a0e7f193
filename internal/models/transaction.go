package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/types"
)

// Transaction is an immutable audit record of one money movement
type Transaction struct {
	ID          int64                   `json:"id" db:"id"`
	UserID      int64                   `json:"user_id" db:"user_id"`
	Type        types.TransactionType   `json:"type" db:"type"`
	Amount      decimal.Decimal         `json:"amount" db:"amount"`
	TonHash     *string                 `json:"ton_hash,omitempty" db:"ton_hash"`
	Status      types.TransactionStatus `json:"status" db:"status"`
	Description string                  `json:"description" db:"description"`
	CreatedAt   time.Time               `json:"created_at" db:"created_at"`
}

// NewStakeTransaction records principal moving from balance into a stake
func NewStakeTransaction(userID int64, amount decimal.Decimal) *Transaction {
	return &Transaction{
		UserID:      userID,
		Type:        types.TransactionTypeStake,
		Amount:      amount,
		Status:      types.TransactionStatusCompleted,
		Description: fmt.Sprintf("Staked %s TON", amount.String()),
	}
}

// NewUnstakeTransaction records principal plus reward returning to balance
func NewUnstakeTransaction(userID int64, principal, reward decimal.Decimal) *Transaction {
	return &Transaction{
		UserID:      userID,
		Type:        types.TransactionTypeUnstake,
		Amount:      principal.Add(reward),
		Status:      types.TransactionStatusCompleted,
		Description: fmt.Sprintf("Unstaked %s TON + %s TON reward", principal.String(), reward.String()),
	}
}

// NewDepositTransaction records a deposit; tonHash is stored as given, never verified
func NewDepositTransaction(userID int64, amount decimal.Decimal, tonHash string) *Transaction {
	tx := &Transaction{
		UserID:      userID,
		Type:        types.TransactionTypeDeposit,
		Amount:      amount,
		Status:      types.TransactionStatusCompleted,
		Description: fmt.Sprintf("Deposit %s TON", amount.String()),
	}
	if tonHash != "" {
		tx.TonHash = &tonHash
	}
	return tx
}
