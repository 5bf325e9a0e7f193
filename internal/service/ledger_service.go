package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/clock"
	apperrors "github.com/staking-ledger/internal/errors"
	"github.com/staking-ledger/internal/logging"
	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/retry"
	"github.com/staking-ledger/internal/storage"
	"github.com/staking-ledger/internal/types"
)

const maxIdempotencyKeyLength = 255

// Collaborator interfaces for dependency injection

// ReferralCache caches referral summaries by referrer wallet. Fills carry
// the version read before the store was queried; a fill is dropped when an
// invalidation has bumped the version since.
type ReferralCache interface {
	GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, bool, error)
	ReferralVersion(ctx context.Context, walletAddress string) (int64, error)
	SetReferralSummary(ctx context.Context, walletAddress string, version int64, summary *models.ReferralSummary) error
	InvalidateReferralSummary(ctx context.Context, walletAddress string) error
}

// AuditSink receives transactions after they are committed. Failures are
// logged and never affect the operation result.
type AuditSink interface {
	RecordTransactions(ctx context.Context, walletAddress string, txs []*models.Transaction) error
}

// CommissionCollector is called inside the stake-open transaction with the
// computed owner commission. The default records nothing; the commission is
// a reporting figure only.
type CommissionCollector interface {
	Collect(ctx context.Context, tx storage.LedgerTx, stake *models.Stake, commission decimal.Decimal) error
}

// NoopCommissionCollector leaves the ledger untouched
type NoopCommissionCollector struct{}

// Collect does nothing
func (NoopCommissionCollector) Collect(ctx context.Context, tx storage.LedgerTx, stake *models.Stake, commission decimal.Decimal) error {
	return nil
}

// LedgerService is the accounting engine: user registration, stake
// open/close, deposits, stats and referral summaries
type LedgerService struct {
	store        storage.LedgerStore
	clock        clock.Clock
	policy       Policy
	cache        ReferralCache
	audit        AuditSink
	commission   CommissionCollector
	generateCode CodeGenerator
	retryConfig  *retry.RetryConfig
}

// Option configures optional LedgerService collaborators
type Option func(*LedgerService)

// WithReferralCache serves GetReferrals through cache
func WithReferralCache(cache ReferralCache) Option {
	return func(s *LedgerService) { s.cache = cache }
}

// WithAuditSink mirrors committed transactions to sink
func WithAuditSink(sink AuditSink) Option {
	return func(s *LedgerService) { s.audit = sink }
}

// WithCommissionCollector replaces the no-op commission hook
func WithCommissionCollector(c CommissionCollector) Option {
	return func(s *LedgerService) { s.commission = c }
}

// WithCodeGenerator replaces the random referral code generator
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *LedgerService) { s.generateCode = gen }
}

// WithRetryConfig overrides the retry policy for store transactions
func WithRetryConfig(cfg *retry.RetryConfig) Option {
	return func(s *LedgerService) { s.retryConfig = cfg }
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store storage.LedgerStore, clk clock.Clock, policy Policy, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:        store,
		clock:        clk,
		policy:       policy,
		commission:   NoopCommissionCollector{},
		generateCode: GenerateReferralCode,
		retryConfig:  retry.LedgerRetryConfig(isRetryableTxError),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Input types

// GetOrCreateUserInput identifies a wallet and optional registration data
type GetOrCreateUserInput struct {
	WalletAddress string
	TelegramID    *int64
	ReferredBy    string
}

// CreateStakeInput opens a stake from the spendable balance
type CreateStakeInput struct {
	WalletAddress  string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// UnstakeInput closes an active stake
type UnstakeInput struct {
	WalletAddress  string
	StakeID        int64
	IdempotencyKey string
}

// DepositInput credits the spendable balance
type DepositInput struct {
	WalletAddress  string
	Amount         decimal.Decimal
	TonHash        string
	IdempotencyKey string
}

// Output types

// CreateStakeResult describes a newly opened stake
type CreateStakeResult struct {
	StakeID     int64           `json:"stake_id"`
	Amount      decimal.Decimal `json:"amount"`
	DailyReward decimal.Decimal `json:"daily_reward"`
	EndDate     time.Time       `json:"end_date"`
	Commission  decimal.Decimal `json:"commission"`
	Replayed    bool            `json:"-"`
}

// UnstakeResult is the payout of a closed stake
type UnstakeResult struct {
	Amount   decimal.Decimal `json:"amount"`
	Reward   decimal.Decimal `json:"reward"`
	Total    decimal.Decimal `json:"total"`
	Replayed bool            `json:"-"`
}

// DepositResult confirms a credited deposit
type DepositResult struct {
	Success  bool            `json:"success"`
	Amount   decimal.Decimal `json:"amount"`
	Replayed bool            `json:"-"`
}

// ActiveStakeView is an open stake with its live, unpersisted projection
type ActiveStakeView struct {
	ID            int64           `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	DailyReward   decimal.Decimal `json:"daily_reward"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	DaysRemaining int64           `json:"days_remaining"`
	CurrentReward decimal.Decimal `json:"current_reward"`
}

// UserStats is a user's totals plus active stakes
type UserStats struct {
	Balance          decimal.Decimal   `json:"balance"`
	TotalStaked      decimal.Decimal   `json:"total_staked"`
	TotalEarned      decimal.Decimal   `json:"total_earned"`
	ReferralEarnings decimal.Decimal   `json:"referral_earnings"`
	ActiveStakes     []ActiveStakeView `json:"active_stakes"`
}

// GetOrCreateUser returns the user for a wallet, registering it on first
// contact. Referral linkage is evaluated only at registration.
func (s *LedgerService) GetOrCreateUser(ctx context.Context, input *GetOrCreateUserInput) (*models.User, error) {
	if err := validateWallet(input.WalletAddress); err != nil {
		return nil, err
	}

	existing, err := s.store.GetUserByWallet(ctx, input.WalletAddress)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewDatabaseError("get_user", err)
	}

	var (
		user           *models.User
		referrerWallet string
		registered     bool
	)

	err = s.runTx(ctx, func(tx storage.LedgerTx) error {
		user, referrerWallet, registered = nil, "", false

		// a concurrent registration may have committed since the read above
		found, err := tx.LockUserByWallet(ctx, input.WalletAddress)
		if err == nil {
			user = found
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		code, err := s.generateCode()
		if err != nil {
			return err
		}

		now := s.clock.Now()
		created := &models.User{
			WalletAddress: input.WalletAddress,
			TelegramID:    input.TelegramID,
			ReferralCode:  code,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if input.ReferredBy != "" {
			referredBy := input.ReferredBy
			created.ReferredBy = &referredBy
		}

		if err := tx.CreateUser(ctx, created); err != nil {
			return err
		}

		if input.ReferredBy != "" {
			referrer, err := tx.GetUserByReferralCode(ctx, input.ReferredBy)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				// unknown codes are ignored
			case err != nil:
				return err
			case referrer.ID != created.ID:
				err := tx.CreateReferral(ctx, &models.Referral{
					ReferrerID:   referrer.ID,
					ReferredID:   created.ID,
					RewardEarned: decimal.Zero,
					CreatedAt:    now,
				})
				if err != nil {
					return err
				}
				referrerWallet = referrer.WalletAddress
			}
		}

		user, registered = created, true
		return nil
	})
	if err != nil {
		return nil, s.wrapError("get_or_create_user", err)
	}

	if registered {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"userId":   user.ID,
			"wallet":   user.WalletAddress,
			"referrer": referrerWallet,
		}).Info("Registered user")
	}
	if referrerWallet != "" {
		s.invalidateReferrals(ctx, referrerWallet)
	}

	return user, nil
}

// CreateStake moves amount from the balance into a new fixed-term stake
func (s *LedgerService) CreateStake(ctx context.Context, input *CreateStakeInput) (*CreateStakeResult, error) {
	if err := validateWallet(input.WalletAddress); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be greater than 0")
	}
	if err := validateIdempotencyKey(input.IdempotencyKey); err != nil {
		return nil, err
	}

	var (
		result   *CreateStakeResult
		recorded []*models.Transaction
	)

	err := s.runTx(ctx, func(tx storage.LedgerTx) error {
		result, recorded = nil, nil

		user, err := s.lockUser(ctx, tx, input.WalletAddress)
		if err != nil {
			return err
		}

		var replay CreateStakeResult
		if ok, err := s.lookupReplay(ctx, tx, user.ID, types.OperationStake, input.IdempotencyKey, &replay); err != nil || ok {
			replay.Replayed = ok
			result = &replay
			return err
		}

		if user.Balance.LessThan(input.Amount) {
			return apperrors.NewInsufficientBalanceError(user.Balance, input.Amount)
		}

		now := s.clock.Now()
		stake := &models.Stake{
			UserID:      user.ID,
			Amount:      input.Amount,
			APY:         s.policy.APY,
			DailyReward: DailyReward(input.Amount, s.policy.APY),
			StartDate:   now,
			EndDate:     now.AddDate(0, 0, s.policy.TermDays),
			Status:      types.StakeStatusActive,
		}
		if err := tx.CreateStake(ctx, stake); err != nil {
			return err
		}

		user.Balance = user.Balance.Sub(input.Amount)
		user.TotalStaked = user.TotalStaked.Add(input.Amount)
		user.UpdatedAt = now
		if err := tx.UpdateUserBalances(ctx, user); err != nil {
			return err
		}

		record := models.NewStakeTransaction(user.ID, input.Amount)
		record.CreatedAt = now
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}

		commission := Commission(input.Amount, s.policy.CommissionRate)
		if err := s.commission.Collect(ctx, tx, stake, commission); err != nil {
			return err
		}

		res := &CreateStakeResult{
			StakeID:     stake.ID,
			Amount:      stake.Amount,
			DailyReward: stake.DailyReward,
			EndDate:     stake.EndDate,
			Commission:  commission,
		}
		if err := s.remember(ctx, tx, user.ID, types.OperationStake, input.IdempotencyKey, now, res); err != nil {
			return err
		}

		result, recorded = res, []*models.Transaction{record}
		return nil
	})
	if err != nil {
		return nil, s.wrapError("create_stake", err)
	}

	if !result.Replayed {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"wallet":  input.WalletAddress,
			"amount":  input.Amount.String(),
			"stakeId": result.StakeID,
		}).Info("Stake opened")
	}
	s.recordAudit(ctx, input.WalletAddress, recorded)
	return result, nil
}

// Unstake closes an active stake and credits principal plus reward
func (s *LedgerService) Unstake(ctx context.Context, input *UnstakeInput) (*UnstakeResult, error) {
	if err := validateWallet(input.WalletAddress); err != nil {
		return nil, err
	}
	if input.StakeID <= 0 {
		return nil, apperrors.NewValidationError("stake_id", "must be a positive integer")
	}
	if err := validateIdempotencyKey(input.IdempotencyKey); err != nil {
		return nil, err
	}

	var (
		result   *UnstakeResult
		recorded []*models.Transaction
	)

	err := s.runTx(ctx, func(tx storage.LedgerTx) error {
		result, recorded = nil, nil

		user, err := s.lockUser(ctx, tx, input.WalletAddress)
		if err != nil {
			return err
		}

		var replay UnstakeResult
		if ok, err := s.lookupReplay(ctx, tx, user.ID, types.OperationUnstake, input.IdempotencyKey, &replay); err != nil || ok {
			replay.Replayed = ok
			result = &replay
			return err
		}

		stake, err := tx.LockStake(ctx, input.StakeID, user.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewInvalidStakeError(input.StakeID, "stake not found")
		}
		if err != nil {
			return err
		}
		if !stake.IsActive() {
			return apperrors.NewInvalidStakeError(input.StakeID, "stake is not active")
		}

		now := s.clock.Now()
		days := DaysStaked(stake.StartDate, now)
		reward := SettleReward(stake.DailyReward, days, stake.IsMatured(now), s.policy.EarlyPenalty)
		total := stake.Amount.Add(reward)

		stake.Status = types.StakeStatusWithdrawn
		stake.TotalReward = decimal.NewNullDecimal(reward)
		stake.WithdrawnAt = &now
		if err := tx.CloseStake(ctx, stake); err != nil {
			return err
		}

		user.Balance = user.Balance.Add(total)
		user.TotalEarned = user.TotalEarned.Add(reward)
		user.UpdatedAt = now
		if err := tx.UpdateUserBalances(ctx, user); err != nil {
			return err
		}

		record := models.NewUnstakeTransaction(user.ID, stake.Amount, reward)
		record.CreatedAt = now
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}

		res := &UnstakeResult{
			Amount: stake.Amount,
			Reward: reward,
			Total:  total,
		}
		if err := s.remember(ctx, tx, user.ID, types.OperationUnstake, input.IdempotencyKey, now, res); err != nil {
			return err
		}

		result, recorded = res, []*models.Transaction{record}
		return nil
	})
	if err != nil {
		return nil, s.wrapError("unstake", err)
	}

	if !result.Replayed {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"wallet":  input.WalletAddress,
			"stakeId": input.StakeID,
			"reward":  result.Reward.String(),
			"total":   result.Total.String(),
		}).Info("Stake closed")
	}
	s.recordAudit(ctx, input.WalletAddress, recorded)
	return result, nil
}

// Deposit credits amount to the spendable balance. The TON hash is stored
// as given and never verified.
func (s *LedgerService) Deposit(ctx context.Context, input *DepositInput) (*DepositResult, error) {
	if err := validateWallet(input.WalletAddress); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("amount", "must be greater than 0")
	}
	if err := validateIdempotencyKey(input.IdempotencyKey); err != nil {
		return nil, err
	}

	var (
		result   *DepositResult
		recorded []*models.Transaction
	)

	err := s.runTx(ctx, func(tx storage.LedgerTx) error {
		result, recorded = nil, nil

		user, err := s.lockUser(ctx, tx, input.WalletAddress)
		if err != nil {
			return err
		}

		var replay DepositResult
		if ok, err := s.lookupReplay(ctx, tx, user.ID, types.OperationDeposit, input.IdempotencyKey, &replay); err != nil || ok {
			replay.Replayed = ok
			result = &replay
			return err
		}

		now := s.clock.Now()
		user.Balance = user.Balance.Add(input.Amount)
		user.UpdatedAt = now
		if err := tx.UpdateUserBalances(ctx, user); err != nil {
			return err
		}

		record := models.NewDepositTransaction(user.ID, input.Amount, input.TonHash)
		record.CreatedAt = now
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}

		res := &DepositResult{Success: true, Amount: input.Amount}
		if err := s.remember(ctx, tx, user.ID, types.OperationDeposit, input.IdempotencyKey, now, res); err != nil {
			return err
		}

		result, recorded = res, []*models.Transaction{record}
		return nil
	})
	if err != nil {
		return nil, s.wrapError("deposit", err)
	}

	if !result.Replayed {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"wallet": input.WalletAddress,
			"amount": input.Amount.String(),
		}).Info("Deposit credited")
	}
	s.recordAudit(ctx, input.WalletAddress, recorded)
	return result, nil
}

// GetUserStats returns totals and active stakes projected to now
func (s *LedgerService) GetUserStats(ctx context.Context, walletAddress string) (*UserStats, error) {
	if err := validateWallet(walletAddress); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByWallet(ctx, walletAddress)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewUserNotFoundError(walletAddress)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_user_stats", err)
	}

	stakes, err := s.store.ListActiveStakes(ctx, user.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_user_stats", err)
	}

	now := s.clock.Now()
	views := make([]ActiveStakeView, 0, len(stakes))
	for _, stake := range stakes {
		views = append(views, ActiveStakeView{
			ID:            stake.ID,
			Amount:        stake.Amount,
			DailyReward:   stake.DailyReward,
			StartDate:     stake.StartDate,
			EndDate:       stake.EndDate,
			DaysRemaining: DaysRemaining(stake.EndDate, now),
			CurrentReward: AccruedReward(stake.DailyReward, DaysStaked(stake.StartDate, now)),
		})
	}

	return &UserStats{
		Balance:          user.Balance,
		TotalStaked:      user.TotalStaked,
		TotalEarned:      user.TotalEarned,
		ReferralEarnings: user.ReferralEarnings,
		ActiveStakes:     views,
	}, nil
}

// GetReferrals summarizes the wallet owner's referrals. An unknown wallet
// has no referrals.
func (s *LedgerService) GetReferrals(ctx context.Context, walletAddress string) (*models.ReferralSummary, error) {
	if err := validateWallet(walletAddress); err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithField("wallet", walletAddress)

	var (
		version   int64
		cacheable bool
	)
	if s.cache != nil {
		cached, found, err := s.cache.GetReferralSummary(ctx, walletAddress)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Referral cache read failed")
		case found:
			return cached, nil
		default:
			// the version must be taken before the store read
			version, err = s.cache.ReferralVersion(ctx, walletAddress)
			if err != nil {
				logger.WithError(err).Warn("Referral cache version read failed")
			}
			cacheable = err == nil
		}
	}

	summary, err := s.store.GetReferralSummary(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_referrals", err)
	}

	if cacheable {
		if err := s.cache.SetReferralSummary(ctx, walletAddress, version, summary); err != nil {
			logger.WithError(err).Warn("Referral cache write failed")
		}
	}

	return summary, nil
}

// Ping checks the ledger store
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// runTx runs fn in a store transaction, retrying lost races
func (s *LedgerService) runTx(ctx context.Context, fn func(tx storage.LedgerTx) error) error {
	return retry.Do(ctx, s.retryConfig, func(ctx context.Context, attempt int) error {
		return s.store.WithinTx(ctx, fn)
	})
}

// isRetryableTxError reports whether rerunning the whole transaction can
// succeed: serialization failures, a concurrent registration of the same
// wallet, a referral code collision, or a concurrent use of an idempotency key
func isRetryableTxError(err error) bool {
	return storage.IsRetryable(err) ||
		errors.Is(err, storage.ErrWalletTaken) ||
		errors.Is(err, storage.ErrReferralCodeTaken) ||
		errors.Is(err, storage.ErrIdempotencyKeyExists)
}

func (s *LedgerService) lockUser(ctx context.Context, tx storage.LedgerTx, walletAddress string) (*models.User, error) {
	user, err := tx.LockUserByWallet(ctx, walletAddress)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewUserNotFoundError(walletAddress)
	}
	return user, err
}

// lookupReplay loads the stored response for key into dest
func (s *LedgerService) lookupReplay(ctx context.Context, tx storage.LedgerTx, userID int64, op types.Operation, key string, dest interface{}) (bool, error) {
	if key == "" {
		return false, nil
	}

	rec, err := tx.GetIdempotencyRecord(ctx, userID, op, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(rec.Response, dest); err != nil {
		return false, fmt.Errorf("failed to decode stored response for key %q: %w", key, err)
	}

	logging.FromContext(ctx).WithFields(logging.Fields{
		"operation":      string(op),
		"idempotencyKey": key,
	}).Info("Replaying idempotent request")

	return true, nil
}

// remember stores response under key in the same transaction
func (s *LedgerService) remember(ctx context.Context, tx storage.LedgerTx, userID int64, op types.Operation, key string, now time.Time, response interface{}) error {
	if key == "" {
		return nil
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}

	return tx.SaveIdempotencyRecord(ctx, &models.IdempotencyRecord{
		UserID:    userID,
		Operation: op,
		Key:       key,
		Response:  data,
		CreatedAt: now,
	})
}

func (s *LedgerService) recordAudit(ctx context.Context, walletAddress string, txs []*models.Transaction) {
	if s.audit == nil || len(txs) == 0 {
		return
	}
	if err := s.audit.RecordTransactions(ctx, walletAddress, txs); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("wallet", walletAddress).Warn("Failed to mirror transactions to audit sink")
	}
}

func (s *LedgerService) invalidateReferrals(ctx context.Context, referrerWallet string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateReferralSummary(ctx, referrerWallet); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("wallet", referrerWallet).Warn("Failed to invalidate referral cache")
	}
}

// wrapError passes categorized business errors through and reports
// everything else as a store failure
func (s *LedgerService) wrapError(operation string, err error) error {
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}
	switch {
	case errors.Is(err, storage.ErrValueTooLong):
		return apperrors.NewValidationError("request", "a field exceeds its maximum length")
	case errors.Is(err, storage.ErrIdempotencyKeyExists), errors.Is(err, storage.ErrWalletTaken):
		// still colliding after every retry
		return apperrors.NewConflictError("request conflicts with a concurrent request; retry")
	}
	return apperrors.NewDatabaseError(operation, err)
}

func validateWallet(walletAddress string) error {
	if walletAddress == "" {
		return apperrors.NewValidationError("wallet_address", "required")
	}
	if len(walletAddress) > storage.MaxWalletAddressLength {
		return apperrors.NewValidationError("wallet_address", fmt.Sprintf("must be at most %d characters", storage.MaxWalletAddressLength))
	}
	return nil
}

func validateIdempotencyKey(key string) error {
	if len(key) > maxIdempotencyKeyLength {
		return apperrors.NewValidationError("idempotency_key", fmt.Sprintf("must be at most %d characters", maxIdempotencyKeyLength))
	}
	return nil
}
