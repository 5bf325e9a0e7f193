package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/models"
	"github.com/staking-ledger/internal/types"
)

// MemoryLedger is an in-process LedgerStore. Transactions are serialized by
// a single mutex and applied to a copy of the state that replaces the
// committed state only when fn succeeds.
type MemoryLedger struct {
	mu    sync.Mutex
	state *memState
}

type idempotencyKey struct {
	userID int64
	op     types.Operation
	key    string
}

type memState struct {
	users        map[int64]*models.User
	walletIndex  map[string]int64
	codeIndex    map[string]int64
	stakes       map[int64]*models.Stake
	transactions []*models.Transaction
	referrals    []*models.Referral
	referred     map[int64]struct{}
	idempotency  map[idempotencyKey]*models.IdempotencyRecord

	nextUserID     int64
	nextStakeID    int64
	nextTxID       int64
	nextReferralID int64
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		state: &memState{
			users:       make(map[int64]*models.User),
			walletIndex: make(map[string]int64),
			codeIndex:   make(map[string]int64),
			stakes:      make(map[int64]*models.Stake),
			referred:    make(map[int64]struct{}),
			idempotency: make(map[idempotencyKey]*models.IdempotencyRecord),
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		users:          make(map[int64]*models.User, len(s.users)),
		walletIndex:    make(map[string]int64, len(s.walletIndex)),
		codeIndex:      make(map[string]int64, len(s.codeIndex)),
		stakes:         make(map[int64]*models.Stake, len(s.stakes)),
		transactions:   make([]*models.Transaction, len(s.transactions)),
		referrals:      make([]*models.Referral, len(s.referrals)),
		referred:       make(map[int64]struct{}, len(s.referred)),
		idempotency:    make(map[idempotencyKey]*models.IdempotencyRecord, len(s.idempotency)),
		nextUserID:     s.nextUserID,
		nextStakeID:    s.nextStakeID,
		nextTxID:       s.nextTxID,
		nextReferralID: s.nextReferralID,
	}
	for id, u := range s.users {
		c.users[id] = u.Clone()
	}
	for k, v := range s.walletIndex {
		c.walletIndex[k] = v
	}
	for k, v := range s.codeIndex {
		c.codeIndex[k] = v
	}
	for id, st := range s.stakes {
		c.stakes[id] = st.Clone()
	}
	// transactions, referrals and idempotency records are append-only
	copy(c.transactions, s.transactions)
	copy(c.referrals, s.referrals)
	for k := range s.referred {
		c.referred[k] = struct{}{}
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

// WithinTx runs fn against a private copy of the ledger and commits it when
// fn returns nil
func (m *MemoryLedger) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.state = work
	return nil
}

// GetUserByWallet returns a copy of the committed user
func (m *MemoryLedger) GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.state.walletIndex[walletAddress]
	if !ok {
		return nil, ErrNotFound
	}
	return m.state.users[id].Clone(), nil
}

// ListActiveStakes returns the user's active stakes, oldest first
func (m *MemoryLedger) ListActiveStakes(ctx context.Context, userID int64) ([]*models.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stakes []*models.Stake
	for _, st := range m.state.stakes {
		if st.UserID == userID && st.IsActive() {
			stakes = append(stakes, st.Clone())
		}
	}
	sort.Slice(stakes, func(i, j int) bool {
		if !stakes[i].StartDate.Equal(stakes[j].StartDate) {
			return stakes[i].StartDate.Before(stakes[j].StartDate)
		}
		return stakes[i].ID < stakes[j].ID
	})
	return stakes, nil
}

// GetReferralSummary aggregates the wallet owner's referral edges
func (m *MemoryLedger) GetReferralSummary(ctx context.Context, walletAddress string) (*models.ReferralSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := &models.ReferralSummary{TotalEarned: decimal.Zero}
	id, ok := m.state.walletIndex[walletAddress]
	if !ok {
		return summary, nil
	}

	for _, r := range m.state.referrals {
		if r.ReferrerID == id {
			summary.TotalReferrals++
			summary.TotalEarned = summary.TotalEarned.Add(r.RewardEarned)
		}
	}
	return summary, nil
}

// Ping always succeeds
func (m *MemoryLedger) Ping(ctx context.Context) error {
	return nil
}

// CountUsers returns the number of committed users
func (m *MemoryLedger) CountUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.users)
}

// ListTransactions returns copies of the committed transactions for a user
// in insertion order
func (m *MemoryLedger) ListTransactions(userID int64) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Transaction
	for _, tx := range m.state.transactions {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out
}

// ListReferrals returns copies of every committed referral edge
func (m *MemoryLedger) ListReferrals() []models.Referral {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Referral, 0, len(m.state.referrals))
	for _, r := range m.state.referrals {
		out = append(out, *r)
	}
	return out
}

// GetStake returns a copy of a committed stake
func (m *MemoryLedger) GetStake(stakeID int64) (*models.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state.stakes[stakeID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// memTx mutates a working copy owned by a single WithinTx call
type memTx struct {
	state *memState
}

func (t *memTx) LockUserByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	id, ok := t.state.walletIndex[walletAddress]
	if !ok {
		return nil, ErrNotFound
	}
	return t.state.users[id].Clone(), nil
}

func (t *memTx) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	id, ok := t.state.codeIndex[code]
	if !ok {
		return nil, ErrNotFound
	}
	return t.state.users[id].Clone(), nil
}

func (t *memTx) CreateUser(ctx context.Context, user *models.User) error {
	if len(user.WalletAddress) > MaxWalletAddressLength {
		return fmt.Errorf("%w: wallet_address", ErrValueTooLong)
	}
	if _, ok := t.state.walletIndex[user.WalletAddress]; ok {
		return fmt.Errorf("%w: %s", ErrWalletTaken, user.WalletAddress)
	}
	if _, ok := t.state.codeIndex[user.ReferralCode]; ok {
		return fmt.Errorf("%w: %s", ErrReferralCodeTaken, user.ReferralCode)
	}

	t.state.nextUserID++
	user.ID = t.state.nextUserID
	user.Balance = decimal.Zero
	user.TotalStaked = decimal.Zero
	user.TotalEarned = decimal.Zero
	user.ReferralEarnings = decimal.Zero

	t.state.users[user.ID] = user.Clone()
	t.state.walletIndex[user.WalletAddress] = user.ID
	t.state.codeIndex[user.ReferralCode] = user.ID
	return nil
}

func (t *memTx) UpdateUserBalances(ctx context.Context, user *models.User) error {
	stored, ok := t.state.users[user.ID]
	if !ok {
		return fmt.Errorf("user %d: %w", user.ID, ErrNotFound)
	}
	stored.Balance = user.Balance
	stored.TotalStaked = user.TotalStaked
	stored.TotalEarned = user.TotalEarned
	stored.UpdatedAt = user.UpdatedAt
	return nil
}

func (t *memTx) CreateReferral(ctx context.Context, referral *models.Referral) error {
	if _, ok := t.state.referred[referral.ReferredID]; ok {
		return fmt.Errorf("%w: user %d", ErrReferralExists, referral.ReferredID)
	}
	if _, ok := t.state.users[referral.ReferrerID]; !ok {
		return fmt.Errorf("referrer %d: %w", referral.ReferrerID, ErrNotFound)
	}

	t.state.nextReferralID++
	referral.ID = t.state.nextReferralID
	r := *referral
	t.state.referrals = append(t.state.referrals, &r)
	t.state.referred[referral.ReferredID] = struct{}{}
	return nil
}

func (t *memTx) CreateStake(ctx context.Context, stake *models.Stake) error {
	if _, ok := t.state.users[stake.UserID]; !ok {
		return fmt.Errorf("user %d: %w", stake.UserID, ErrNotFound)
	}
	t.state.nextStakeID++
	stake.ID = t.state.nextStakeID
	t.state.stakes[stake.ID] = stake.Clone()
	return nil
}

func (t *memTx) LockStake(ctx context.Context, stakeID, userID int64) (*models.Stake, error) {
	st, ok := t.state.stakes[stakeID]
	if !ok || st.UserID != userID {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

func (t *memTx) CloseStake(ctx context.Context, stake *models.Stake) error {
	stored, ok := t.state.stakes[stake.ID]
	if !ok || !stored.IsActive() {
		return fmt.Errorf("active stake %d: %w", stake.ID, ErrNotFound)
	}
	stored.Status = stake.Status
	stored.TotalReward = stake.TotalReward
	if stake.WithdrawnAt != nil {
		at := *stake.WithdrawnAt
		stored.WithdrawnAt = &at
	}
	return nil
}

func (t *memTx) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	t.state.nextTxID++
	tx.ID = t.state.nextTxID
	c := *tx
	if tx.TonHash != nil {
		hash := *tx.TonHash
		c.TonHash = &hash
	}
	t.state.transactions = append(t.state.transactions, &c)
	return nil
}

func (t *memTx) GetIdempotencyRecord(ctx context.Context, userID int64, op types.Operation, key string) (*models.IdempotencyRecord, error) {
	rec, ok := t.state.idempotency[idempotencyKey{userID: userID, op: op, key: key}]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (t *memTx) SaveIdempotencyRecord(ctx context.Context, record *models.IdempotencyRecord) error {
	k := idempotencyKey{userID: record.UserID, op: record.Operation, key: record.Key}
	if _, ok := t.state.idempotency[k]; ok {
		return fmt.Errorf("%w: %s", ErrIdempotencyKeyExists, record.Key)
	}
	c := *record
	c.Response = append([]byte(nil), record.Response...)
	t.state.idempotency[k] = &c
	return nil
}
