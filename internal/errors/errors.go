// Package errors maps ledger failures onto categories and HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/staking-ledger/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents missing or malformed input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents unknown wallets or stakes (4xx)
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryBusinessRule represents rejected ledger mutations (4xx)
	CategoryBusinessRule ErrorCategory = "business_rule"
	// CategoryConflict represents conflicting concurrent or repeated requests
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDatabase represents ledger store failures (5xx)
	CategoryDatabase ErrorCategory = "database"
	// CategorySystem represents anything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire-level ServiceError. Causes are never exposed.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Client errors (4xx)

// NewValidationError creates an invalid parameter error
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUserNotFoundError creates a not found error for an unknown wallet
func NewUserNotFoundError(walletAddress string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       types.CodeUserNotFound,
		Message:    "user not found",
		Details: map[string]interface{}{
			"walletAddress": walletAddress,
		},
	}
}

// NewInsufficientBalanceError rejects a debit larger than the spendable balance
func NewInsufficientBalanceError(balance, requested decimal.Decimal) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBusinessRule,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInsufficientBalance,
		Message:    "insufficient balance",
		Details: map[string]interface{}{
			"balance":   balance.String(),
			"requested": requested.String(),
		},
	}
}

// NewInvalidStakeError rejects closing a stake that is missing, foreign or not active
func NewInvalidStakeError(stakeID int64, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBusinessRule,
		StatusCode: http.StatusBadRequest,
		Code:       types.CodeInvalidStake,
		Message:    "invalid stake",
		Details: map[string]interface{}{
			"stakeId": stakeID,
			"reason":  reason,
		},
	}
}

// NewConflictError rejects a request that kept colliding with concurrent ones
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       types.CodeConflict,
		Message:    message,
	}
}

// Server errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a ledger store error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err categorizes to the given code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}

// IsSystemError determines if an error is a server error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
