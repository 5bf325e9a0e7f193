package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Legacy actions accepted on POST /api?action=...
const (
	actionGetUser      = "get_user"
	actionStake        = "stake"
	actionUnstake      = "unstake"
	actionDeposit      = "deposit"
	actionGetStats     = "get_stats"
	actionGetReferrals = "get_referrals"
)

// handleAction serves the single-endpoint protocol used by the web client,
// where the operation is named by the action query parameter and every
// argument travels in the JSON body. Errors use the flat LegacyErrorResponse.
func (s *Server) handleAction(rw http.ResponseWriter, r *http.Request) {
	w := legacyWriter{rw}

	switch action := mux.Vars(r)["action"]; action {
	case actionGetUser:
		var req userRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.getOrCreateUser(w, r, &req)

	case actionStake:
		var req stakeRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.createStake(w, r, &req)

	case actionUnstake:
		var req unstakeRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.unstake(w, r, &req)

	case actionDeposit:
		var req depositRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.deposit(w, r, &req)

	case actionGetStats:
		var req walletRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.getUserStats(w, r, req.WalletAddress)

	case actionGetReferrals:
		var req walletRequest
		if err := parseJSONBody(w, r, &req); err != nil {
			respondBadRequest(w, err.Error())
			return
		}
		s.getReferrals(w, r, req.WalletAddress)

	default:
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "Unknown action", map[string]interface{}{
			"action": action,
		})
	}
}
