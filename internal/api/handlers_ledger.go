package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/service"
)

const (
	// IdempotencyKeyHeader lets clients retry money-moving requests safely
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from a stored idempotent result
	ReplayedHeader = "Idempotent-Replayed"
)

// Request bodies. Amounts accept JSON numbers or numeric strings.

type userRequest struct {
	WalletAddress string `json:"wallet_address"`
	TelegramID    *int64 `json:"telegram_id"`
	ReferredBy    string `json:"referred_by"`
}

type stakeRequest struct {
	WalletAddress  string          `json:"wallet_address"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type unstakeRequest struct {
	WalletAddress  string `json:"wallet_address"`
	StakeID        int64  `json:"stake_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

type depositRequest struct {
	WalletAddress  string          `json:"wallet_address"`
	Amount         decimal.Decimal `json:"amount"`
	TonHash        string          `json:"ton_hash"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// handleGetOrCreateUser handles POST /api/users
func (s *Server) handleGetOrCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	s.getOrCreateUser(w, r, &req)
}

// handleCreateStake handles POST /api/stakes
func (s *Server) handleCreateStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	s.createStake(w, r, &req)
}

// handleUnstake handles POST /api/stakes/{id}/unstake
func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	stakeID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondBadRequest(w, "invalid stake id")
		return
	}

	var req unstakeRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	req.StakeID = stakeID
	s.unstake(w, r, &req)
}

// handleDeposit handles POST /api/deposits
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondBadRequest(w, err.Error())
		return
	}
	s.deposit(w, r, &req)
}

// handleGetUserStats handles GET /api/users/{wallet}/stats
func (s *Server) handleGetUserStats(w http.ResponseWriter, r *http.Request) {
	s.getUserStats(w, r, mux.Vars(r)["wallet"])
}

// handleGetReferrals handles GET /api/users/{wallet}/referrals
func (s *Server) handleGetReferrals(w http.ResponseWriter, r *http.Request) {
	s.getReferrals(w, r, mux.Vars(r)["wallet"])
}

func (s *Server) getOrCreateUser(w http.ResponseWriter, r *http.Request, req *userRequest) {
	user, err := s.ledger.GetOrCreateUser(r.Context(), &service.GetOrCreateUserInput{
		WalletAddress: strings.TrimSpace(req.WalletAddress),
		TelegramID:    req.TelegramID,
		ReferredBy:    strings.TrimSpace(req.ReferredBy),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) createStake(w http.ResponseWriter, r *http.Request, req *stakeRequest) {
	result, err := s.ledger.CreateStake(r.Context(), &service.CreateStakeInput{
		WalletAddress:  strings.TrimSpace(req.WalletAddress),
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	markReplayed(w, result.Replayed)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) unstake(w http.ResponseWriter, r *http.Request, req *unstakeRequest) {
	result, err := s.ledger.Unstake(r.Context(), &service.UnstakeInput{
		WalletAddress:  strings.TrimSpace(req.WalletAddress),
		StakeID:        req.StakeID,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	markReplayed(w, result.Replayed)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request, req *depositRequest) {
	result, err := s.ledger.Deposit(r.Context(), &service.DepositInput{
		WalletAddress:  strings.TrimSpace(req.WalletAddress),
		Amount:         req.Amount,
		TonHash:        strings.TrimSpace(req.TonHash),
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	markReplayed(w, result.Replayed)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getUserStats(w http.ResponseWriter, r *http.Request, walletAddress string) {
	stats, err := s.ledger.GetUserStats(r.Context(), strings.TrimSpace(walletAddress))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) getReferrals(w http.ResponseWriter, r *http.Request, walletAddress string) {
	summary, err := s.ledger.GetReferrals(r.Context(), strings.TrimSpace(walletAddress))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// idempotencyKey prefers the header over the body field
func idempotencyKey(r *http.Request, fromBody string) string {
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(fromBody)
}

func markReplayed(w http.ResponseWriter, replayed bool) {
	if replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
}
