package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/models"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(testClickHouseConfig())
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestAuditRepository_RecordTransactions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(testClickHouseConfig())
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := testContext(t)
	if err := RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"); err != nil {
		t.Fatalf("RunClickHouseMigrations() error = %v", err)
	}

	repo := NewAuditRepository(db)
	tx := models.NewDepositTransaction(1, decimal.RequireFromString("12.5"), "abc")
	tx.ID = time.Now().UnixNano()
	tx.CreatedAt = time.Now().UTC()

	if err := repo.RecordTransactions(ctx, "EQ-audit-test", []*models.Transaction{tx}); err != nil {
		t.Fatalf("RecordTransactions() error = %v", err)
	}

	var count uint64
	row := db.Conn().QueryRow(ctx, "SELECT count() FROM ledger_transactions WHERE id = ?", tx.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestAuditRepository_EmptyBatch(t *testing.T) {
	repo := NewAuditRepository(nil)
	if err := repo.RecordTransactions(testContext(t), "EQ-any", nil); err != nil {
		t.Errorf("RecordTransactions(nil) error = %v", err)
	}
}
