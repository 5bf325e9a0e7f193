package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPgError(t *testing.T) {
	other := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), ErrNotFound},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrSerializationFailure},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrSerializationFailure},
		{"wallet", &pgconn.PgError{Code: "23505", ConstraintName: constraintUsersWallet}, ErrWalletTaken},
		{"code", &pgconn.PgError{Code: "23505", ConstraintName: constraintUsersReferralCode}, ErrReferralCodeTaken},
		{"referral", &pgconn.PgError{Code: "23505", ConstraintName: constraintReferralsReferred}, ErrReferralExists},
		{"idempotency", &pgconn.PgError{Code: "23505", ConstraintName: constraintIdempotencyKey}, ErrIdempotencyKeyExists},
		{"too long", &pgconn.PgError{Code: "22001"}, ErrValueTooLong},
		{"other", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapPgError(tt.err), tt.want)
		})
	}

	assert.NoError(t, mapPgError(nil))

	unknown := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}
	assert.Same(t, unknown, mapPgError(unknown))
	assert.True(t, IsRetryable(mapPgError(&pgconn.PgError{Code: "40001"})))
	assert.False(t, IsRetryable(mapPgError(unknown)))
}

func TestPostgresLedger_Contract(t *testing.T) {
	runLedgerStoreContract(t, func(t *testing.T) LedgerStore {
		return newTestPostgresLedger(t)
	})
}

func TestPostgresLedger_ConcurrentIncrements(t *testing.T) {
	store := newTestPostgresLedger(t)
	ctx := context.Background()
	createUser(t, store, "EQ-alice", "JBL-ALICE1")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithinTx(ctx, func(tx LedgerTx) error {
				user, err := tx.LockUserByWallet(ctx, "EQ-alice")
				if err != nil {
					return err
				}
				user.Balance = user.Balance.Add(decimal.NewFromInt(1))
				return tx.UpdateUserBalances(ctx, user)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	user, err := store.GetUserByWallet(ctx, "EQ-alice")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(workers)), "balance = %s", user.Balance)
}
