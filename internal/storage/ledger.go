package storage

import (
	"context"
	"errors"

	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/types"
)

// Sentinel errors shared by every LedgerStore implementation
var (
	ErrNotFound             = errors.New("record not found")
	ErrWalletTaken          = errors.New("wallet address already registered")
	ErrReferralCodeTaken    = errors.New("referral code already assigned")
	ErrReferralExists       = errors.New("referral already recorded for user")
	ErrIdempotencyKeyExists = errors.New("idempotency key already used")
	ErrSerializationFailure = errors.New("transaction serialization failure")
	ErrValueTooLong         = errors.New("value exceeds column width")
)

// MaxWalletAddressLength is the widest wallet address the users table holds
const MaxWalletAddressLength = 128

// LedgerStore is the transactional store behind the accounting engine
type LedgerStore interface {
	// WithinTx runs fn in one transaction. fn's error rolls everything back;
	// a nil return commits.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	ListActiveStakes(ctx context.Context, userID int64) ([]*models.Stake, error)
	// GetReferralSummary aggregates edges whose referrer owns walletAddress.
	// An unknown wallet yields an empty summary.
	GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, error)
	Ping(ctx context.Context) error
}

// LedgerTx is the set of reads and writes available inside WithinTx.
// Lock* methods hold the row until the transaction ends.
type LedgerTx interface {
	LockUserByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUserBalances(ctx context.Context, user *models.User) error
	CreateReferral(ctx context.Context, referral *models.Referral) error

	CreateStake(ctx context.Context, stake *models.Stake) error
	LockStake(ctx context.Context, stakeID, userID int64) (*models.Stake, error)
	CloseStake(ctx context.Context, stake *models.Stake) error

	CreateTransaction(ctx context.Context, tx *models.Transaction) error

	GetIdempotencyRecord(ctx context.Context, userID int64, op types.Operation, key string) (*models.IdempotencyRecord, error)
	SaveIdempotencyRecord(ctx context.Context, record *models.IdempotencyRecord) error
}

// IsRetryable reports whether a failed transaction may succeed if run again
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure)
}

var (
	_ LedgerStore = (*PostgresLedger)(nil)
	_ LedgerStore = (*MemoryLedger)(nil)
	_ LedgerTx    = (*pgLedgerTx)(nil)
	_ LedgerTx    = (*memTx)(nil)
)
