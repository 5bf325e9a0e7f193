package storage

import (
	"context"
	"fmt"

	"github.com/staking-ledger/internal/models"
)

// AuditRepository mirrors committed ledger transactions into ClickHouse
// for reporting. Postgres stays the source of truth.
type AuditRepository struct {
	db *ClickHouseDB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *ClickHouseDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// RecordTransactions appends the transactions committed for one wallet
func (r *AuditRepository) RecordTransactions(ctx context.Context, walletAddress string, txs []*models.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ledger_transactions (
			id, user_id, wallet_address, type, amount, ton_hash, status, description, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, tx := range txs {
		err := batch.Append(
			tx.ID,
			tx.UserID,
			walletAddress,
			string(tx.Type),
			tx.Amount,
			tx.TonHash,
			string(tx.Status),
			tx.Description,
			tx.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append transaction %d: %w", tx.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	return nil
}
