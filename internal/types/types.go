// Package types provides common type definitions for the staking ledger.
package types

// StakeStatus represents the lifecycle state of a stake
type StakeStatus string

const (
	// StakeStatusActive is a locked stake still accruing reward
	StakeStatusActive StakeStatus = "active"
	// StakeStatusWithdrawn is terminal; the stake was closed and paid out
	StakeStatusWithdrawn StakeStatus = "withdrawn"
)

// TransactionType represents the kind of money movement recorded in the audit trail
type TransactionType string

const (
	TransactionTypeStake   TransactionType = "stake"
	TransactionTypeUnstake TransactionType = "unstake"
	TransactionTypeDeposit TransactionType = "deposit"
)

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeStake, TransactionTypeUnstake, TransactionTypeDeposit:
		return true
	}
	return false
}

// TransactionStatus represents the settlement state of a ledger transaction.
// Only completed is produced today.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// Operation names an idempotent money-moving operation
type Operation string

const (
	OperationStake   Operation = "stake"
	OperationUnstake Operation = "unstake"
	OperationDeposit Operation = "deposit"
)

// Service error codes
const (
	CodeInvalidParameter    = "INVALID_PARAMETER"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidStake        = "INVALID_STAKE"
	CodeConflict            = "CONFLICT"
)

// ServiceError is the error body returned to API clients
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
