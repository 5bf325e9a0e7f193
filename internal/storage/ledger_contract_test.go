package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbort = errors.New("abort")

func newTestUser(wallet, code string, at time.Time) *models.User {
	return &models.User{
		WalletAddress: wallet,
		ReferralCode:  code,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func createUser(t *testing.T, store LedgerStore, wallet, code string) *models.User {
	t.Helper()
	var user *models.User
	err := store.WithinTx(context.Background(), func(tx LedgerTx) error {
		user = newTestUser(wallet, code, time.Now().UTC())
		return tx.CreateUser(context.Background(), user)
	})
	require.NoError(t, err)
	return user
}

// runLedgerStoreContract exercises behavior every LedgerStore must share
func runLedgerStoreContract(t *testing.T, newStore func(t *testing.T) LedgerStore) {
	t.Run("create and read user", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		user := createUser(t, store, "EQ-alice", "JBL-ALICE1")

		assert.NotZero(t, user.ID)
		assert.True(t, user.Balance.IsZero())

		got, err := store.GetUserByWallet(ctx, "EQ-alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "JBL-ALICE1", got.ReferralCode)

		_, err = store.GetUserByWallet(ctx, "EQ-nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unique wallet and code", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		createUser(t, store, "EQ-alice", "JBL-ALICE1")

		err := store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateUser(ctx, newTestUser("EQ-alice", "JBL-OTHER1", time.Now().UTC()))
		})
		assert.ErrorIs(t, err, ErrWalletTaken)

		err = store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateUser(ctx, newTestUser("EQ-bob", "JBL-ALICE1", time.Now().UTC()))
		})
		assert.ErrorIs(t, err, ErrReferralCodeTaken)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		user := createUser(t, store, "EQ-alice", "JBL-ALICE1")

		err := store.WithinTx(ctx, func(tx LedgerTx) error {
			locked, err := tx.LockUserByWallet(ctx, "EQ-alice")
			if err != nil {
				return err
			}
			locked.Balance = decimal.NewFromInt(50)
			if err := tx.UpdateUserBalances(ctx, locked); err != nil {
				return err
			}
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		got, err := store.GetUserByWallet(ctx, "EQ-alice")
		require.NoError(t, err)
		assert.True(t, got.Balance.IsZero(), "balance = %s", got.Balance)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("stake lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		user := createUser(t, store, "EQ-alice", "JBL-ALICE1")
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		stake := &models.Stake{
			UserID:      user.ID,
			Amount:      decimal.NewFromInt(100),
			APY:         decimal.RequireFromString("12.00"),
			DailyReward: decimal.RequireFromString("0.0328767123287671"),
			StartDate:   start,
			EndDate:     start.AddDate(0, 0, 30),
			Status:      types.StakeStatusActive,
		}
		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateStake(ctx, stake)
		}))
		assert.NotZero(t, stake.ID)

		active, err := store.ListActiveStakes(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.True(t, active[0].DailyReward.Equal(stake.DailyReward))
		assert.False(t, active[0].TotalReward.Valid)

		withdrawn := start.AddDate(0, 0, 15)
		err = store.WithinTx(ctx, func(tx LedgerTx) error {
			locked, err := tx.LockStake(ctx, stake.ID, user.ID)
			if err != nil {
				return err
			}
			locked.Status = types.StakeStatusWithdrawn
			locked.TotalReward = decimal.NewNullDecimal(decimal.RequireFromString("0.443835616"))
			locked.WithdrawnAt = &withdrawn
			return tx.CloseStake(ctx, locked)
		})
		require.NoError(t, err)

		active, err = store.ListActiveStakes(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, active)

		// closing twice is rejected at the store level too
		err = store.WithinTx(ctx, func(tx LedgerTx) error {
			locked, err := tx.LockStake(ctx, stake.ID, user.ID)
			if err != nil {
				return err
			}
			return tx.CloseStake(ctx, locked)
		})
		assert.ErrorIs(t, err, ErrNotFound)

		// foreign owner cannot lock it
		err = store.WithinTx(ctx, func(tx LedgerTx) error {
			_, err := tx.LockStake(ctx, stake.ID, user.ID+1000)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("referral edges", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		alice := createUser(t, store, "EQ-alice", "JBL-ALICE1")
		bob := createUser(t, store, "EQ-bob", "JBL-BOB001")

		summary, err := store.GetReferralSummary(ctx, "EQ-alice")
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.TotalReferrals)
		assert.True(t, summary.TotalEarned.IsZero())

		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			found, err := tx.GetUserByReferralCode(ctx, "JBL-ALICE1")
			if err != nil {
				return err
			}
			return tx.CreateReferral(ctx, &models.Referral{
				ReferrerID:   found.ID,
				ReferredID:   bob.ID,
				RewardEarned: decimal.Zero,
				CreatedAt:    time.Now().UTC(),
			})
		}))

		err = store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateReferral(ctx, &models.Referral{
				ReferrerID:   alice.ID,
				ReferredID:   bob.ID,
				RewardEarned: decimal.Zero,
				CreatedAt:    time.Now().UTC(),
			})
		})
		assert.ErrorIs(t, err, ErrReferralExists)

		summary, err = store.GetReferralSummary(ctx, "EQ-alice")
		require.NoError(t, err)
		assert.Equal(t, int64(1), summary.TotalReferrals)
		assert.True(t, summary.TotalEarned.IsZero())

		summary, err = store.GetReferralSummary(ctx, "EQ-unknown")
		require.NoError(t, err)
		assert.Equal(t, int64(0), summary.TotalReferrals)
	})

	t.Run("idempotency records", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		user := createUser(t, store, "EQ-alice", "JBL-ALICE1")
		response := json.RawMessage(`{"success":true,"amount":5}`)

		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			_, err := tx.GetIdempotencyRecord(ctx, user.ID, types.OperationDeposit, "k1")
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			return tx.SaveIdempotencyRecord(ctx, &models.IdempotencyRecord{
				UserID:    user.ID,
				Operation: types.OperationDeposit,
				Key:       "k1",
				Response:  response,
				CreatedAt: time.Now().UTC(),
			})
		}))

		err := store.WithinTx(ctx, func(tx LedgerTx) error {
			rec, err := tx.GetIdempotencyRecord(ctx, user.ID, types.OperationDeposit, "k1")
			if err != nil {
				return err
			}
			assert.JSONEq(t, string(response), string(rec.Response))
			return tx.SaveIdempotencyRecord(ctx, rec)
		})
		assert.ErrorIs(t, err, ErrIdempotencyKeyExists)

		// same key under another operation is independent
		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			_, err := tx.GetIdempotencyRecord(ctx, user.ID, types.OperationStake, "k1")
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}))
	})

	t.Run("transactions", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		user := createUser(t, store, "EQ-alice", "JBL-ALICE1")

		tx := models.NewDepositTransaction(user.ID, decimal.NewFromInt(10), "hash")
		tx.CreatedAt = time.Now().UTC()
		require.NoError(t, store.WithinTx(ctx, func(ltx LedgerTx) error {
			return ltx.CreateTransaction(ctx, tx)
		}))
		assert.NotZero(t, tx.ID)
	})

	t.Run("column widths", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		// unresolved referral codes and TON hashes are stored as sent
		longCode := strings.Repeat("X", 200)
		user := newTestUser("EQ-alice", "JBL-ALICE1", time.Now().UTC())
		user.ReferredBy = &longCode
		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateUser(ctx, user)
		}))

		deposit := models.NewDepositTransaction(user.ID, decimal.NewFromInt(1), strings.Repeat("h", 300))
		deposit.CreatedAt = time.Now().UTC()
		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateTransaction(ctx, deposit)
		}))

		err := store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateUser(ctx, newTestUser(strings.Repeat("w", MaxWalletAddressLength+1), "JBL-LONG01", time.Now().UTC()))
		})
		assert.ErrorIs(t, err, ErrValueTooLong)

		require.NoError(t, store.WithinTx(ctx, func(tx LedgerTx) error {
			return tx.CreateUser(ctx, newTestUser(strings.Repeat("w", MaxWalletAddressLength), "JBL-LONG02", time.Now().UTC()))
		}))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
