package models

import (
	"encoding/json"
	"time"

	"github.com/staking-ledger/internal/types"
)

// IdempotencyRecord stores the response of a completed mutation under a client key
type IdempotencyRecord struct {
	UserID    int64           `db:"user_id"`
	Operation types.Operation `db:"operation"`
	Key       string          `db:"key"`
	Response  json.RawMessage `db:"response"`
	CreatedAt time.Time       `db:"created_at"`
}
