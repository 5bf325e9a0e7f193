package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/types"
)

// Constraint names from migrations/postgres
const (
	constraintUsersWallet       = "users_wallet_address_key"
	constraintUsersReferralCode = "users_referral_code_key"
	constraintReferralsReferred = "referrals_referred_id_key"
	constraintIdempotencyKey    = "idempotency_keys_pkey"
)

const userColumns = `id, wallet_address, telegram_id, referral_code, referred_by,
	balance, total_staked, total_earned, referral_earnings, created_at, updated_at`

const stakeColumns = `id, user_id, amount, apy, daily_reward, start_date, end_date,
	status, total_reward, withdrawn_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger is the LedgerStore backed by Postgres
type PostgresLedger struct {
	db *PostgresDB
}

// NewPostgresLedger creates a new Postgres ledger store
func NewPostgresLedger(db *PostgresDB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// WithinTx runs fn inside a READ COMMITTED transaction. Mutations rely on
// row locks taken through LockUserByWallet/LockStake.
func (l *PostgresLedger) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := l.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPgError(err))
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	if err := fn(&pgLedgerTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPgError(err))
	}
	return nil
}

// GetUserByWallet reads a user without locking
func (l *PostgresLedger) GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1`
	return scanUser(l.db.Pool().QueryRow(ctx, query, walletAddress))
}

// ListActiveStakes returns the user's active stakes, oldest first
func (l *PostgresLedger) ListActiveStakes(ctx context.Context, userID int64) ([]*models.Stake, error) {
	query := `SELECT ` + stakeColumns + `
		FROM stakes
		WHERE user_id = $1 AND status = $2
		ORDER BY start_date, id`

	rows, err := l.db.Pool().Query(ctx, query, userID, types.StakeStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active stakes: %w", mapPgError(err))
	}
	defer rows.Close()

	var stakes []*models.Stake
	for rows.Next() {
		stake, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		stakes = append(stakes, stake)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stakes: %w", err)
	}

	return stakes, nil
}

// GetReferralSummary counts referral edges owned by the wallet's user
func (l *PostgresLedger) GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, error) {
	query := `
		SELECT COUNT(r.id), COALESCE(SUM(r.reward_earned), 0)
		FROM referrals r
		JOIN users u ON u.id = r.referrer_id
		WHERE u.wallet_address = $1
	`

	var summary models.ReferralSummary
	err := l.db.Pool().QueryRow(ctx, query, walletAddress).Scan(&summary.TotalReferrals, &summary.TotalEarned)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize referrals: %w", mapPgError(err))
	}

	return &summary, nil
}

// Ping checks if the database is reachable
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.Ping(ctx)
}

// pgLedgerTx implements LedgerTx on a pgx transaction
type pgLedgerTx struct {
	q querier
}

func (t *pgLedgerTx) LockUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE wallet_address = $1 FOR UPDATE`
	return scanUser(t.q.QueryRow(ctx, query, walletAddress))
}

func (t *pgLedgerTx) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	return scanUser(t.q.QueryRow(ctx, query, code))
}

func (t *pgLedgerTx) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (wallet_address, telegram_id, referral_code, referred_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, balance, total_staked, total_earned, referral_earnings
	`

	err := t.q.QueryRow(ctx, query,
		user.WalletAddress,
		user.TelegramID,
		user.ReferralCode,
		user.ReferredBy,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(
		&user.ID,
		&user.Balance,
		&user.TotalStaked,
		&user.TotalEarned,
		&user.ReferralEarnings,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapPgError(err))
	}

	return nil
}

func (t *pgLedgerTx) UpdateUserBalances(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET balance = $2, total_staked = $3, total_earned = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := t.q.Exec(ctx, query,
		user.ID,
		user.Balance,
		user.TotalStaked,
		user.TotalEarned,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user balances: %w", mapPgError(err))
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
	}

	return nil
}

func (t *pgLedgerTx) CreateReferral(ctx context.Context, referral *models.Referral) error {
	query := `
		INSERT INTO referrals (referrer_id, referred_id, reward_earned, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := t.q.QueryRow(ctx, query,
		referral.ReferrerID,
		referral.ReferredID,
		referral.RewardEarned,
		referral.CreatedAt,
	).Scan(&referral.ID)
	if err != nil {
		return fmt.Errorf("failed to create referral: %w", mapPgError(err))
	}

	return nil
}

func (t *pgLedgerTx) CreateStake(ctx context.Context, stake *models.Stake) error {
	query := `
		INSERT INTO stakes (user_id, amount, apy, daily_reward, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := t.q.QueryRow(ctx, query,
		stake.UserID,
		stake.Amount,
		stake.APY,
		stake.DailyReward,
		stake.StartDate,
		stake.EndDate,
		stake.Status,
	).Scan(&stake.ID)
	if err != nil {
		return fmt.Errorf("failed to create stake: %w", mapPgError(err))
	}

	return nil
}

func (t *pgLedgerTx) LockStake(ctx context.Context, stakeID, userID int64) (*models.Stake, error) {
	query := `SELECT ` + stakeColumns + ` FROM stakes WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return scanStake(t.q.QueryRow(ctx, query, stakeID, userID))
}

// CloseStake moves an active stake to its terminal state
func (t *pgLedgerTx) CloseStake(ctx context.Context, stake *models.Stake) error {
	query := `
		UPDATE stakes
		SET status = $2, total_reward = $3, withdrawn_at = $4
		WHERE id = $1 AND status = $5
	`

	result, err := t.q.Exec(ctx, query,
		stake.ID,
		stake.Status,
		stake.TotalReward,
		stake.WithdrawnAt,
		types.StakeStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to close stake: %w", mapPgError(err))
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("active stake %d: %w", stake.ID, ErrNotFound)
	}

	return nil
}

func (t *pgLedgerTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (user_id, type, amount, ton_hash, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := t.q.QueryRow(ctx, query,
		tx.UserID,
		tx.Type,
		tx.Amount,
		tx.TonHash,
		tx.Status,
		tx.Description,
		tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", mapPgError(err))
	}

	return nil
}

func (t *pgLedgerTx) GetIdempotencyRecord(ctx context.Context, userID int64, op types.Operation, key string) (*models.IdempotencyRecord, error) {
	query := `
		SELECT user_id, operation, key, response, created_at
		FROM idempotency_keys
		WHERE user_id = $1 AND operation = $2 AND key = $3
	`

	var rec models.IdempotencyRecord
	err := t.q.QueryRow(ctx, query, userID, op, key).Scan(
		&rec.UserID,
		&rec.Operation,
		&rec.Key,
		&rec.Response,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", mapPgError(err))
	}

	return &rec, nil
}

func (t *pgLedgerTx) SaveIdempotencyRecord(ctx context.Context, record *models.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_keys (user_id, operation, key, response, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := t.q.Exec(ctx, query,
		record.UserID,
		record.Operation,
		record.Key,
		record.Response,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save idempotency record: %w", mapPgError(err))
	}

	return nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID,
		&user.WalletAddress,
		&user.TelegramID,
		&user.ReferralCode,
		&user.ReferredBy,
		&user.Balance,
		&user.TotalStaked,
		&user.TotalEarned,
		&user.ReferralEarnings,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", mapPgError(err))
	}
	return &user, nil
}

func scanStake(row pgx.Row) (*models.Stake, error) {
	var stake models.Stake
	err := row.Scan(
		&stake.ID,
		&stake.UserID,
		&stake.Amount,
		&stake.APY,
		&stake.DailyReward,
		&stake.StartDate,
		&stake.EndDate,
		&stake.Status,
		&stake.TotalReward,
		&stake.WithdrawnAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stake: %w", mapPgError(err))
	}
	return &stake, nil
}

// mapPgError translates driver errors into the package sentinels
func mapPgError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %w", ErrSerializationFailure, err)
	case "22001": // string_data_right_truncation
		return fmt.Errorf("%w: %w", ErrValueTooLong, err)
	case "23505": // unique_violation
		switch pgErr.ConstraintName {
		case constraintUsersWallet:
			return fmt.Errorf("%w: %w", ErrWalletTaken, err)
		case constraintUsersReferralCode:
			return fmt.Errorf("%w: %w", ErrReferralCodeTaken, err)
		case constraintReferralsReferred:
			return fmt.Errorf("%w: %w", ErrReferralExists, err)
		case constraintIdempotencyKey:
			return fmt.Errorf("%w: %w", ErrIdempotencyKeyExists, err)
		}
	}

	return err
}
