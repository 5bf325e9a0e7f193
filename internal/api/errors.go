package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	apperrors "github.com/staking-ledger/internal/errors"
	"github.com/staking-ledger/internal/logging"
	"github.com/staking-ledger/internal/types"
)

func init() {
	// Money leaves the API as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true
}

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// LegacyErrorResponse is the error body of the action endpoint; the web
// client reads error as a string
type LegacyErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// legacyWriter marks a response for the action endpoint's error shape
type legacyWriter struct {
	http.ResponseWriter
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, ok := w.(legacyWriter); ok {
		json.NewEncoder(w).Encode(LegacyErrorResponse{Error: message, Code: code, Details: details})
		return
	}

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondServiceError maps a service error onto its HTTP status. Server-side
// failures are logged with their cause and answered with a generic message.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	if apperrors.IsSystemError(catErr) {
		logging.FromContext(r.Context()).WithError(err).WithFields(logging.Fields{
			"code":     catErr.Code,
			"category": string(catErr.Category),
		}).Error("Request failed")
		respondError(w, catErr.StatusCode, catErr.Code, "An internal error occurred", nil)
		return
	}

	svcErr := catErr.ToServiceError()
	respondError(w, catErr.StatusCode, svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondBadRequest reports a malformed request
func respondBadRequest(w http.ResponseWriter, message string) {
	respondError(w, http.StatusBadRequest, types.CodeInvalidParameter, message, nil)
}

// parseJSONBody parses JSON request body. Unknown fields are ignored and an
// empty body decodes to the zero value so that field validation reports it.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// Common error codes
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)
