package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

// Idempotency record statuses. An in_progress row doubles as a lock: the
// request that inserted it owns execution of the operation.
const (
	IdempotencyInProgress = "in_progress"
	IdempotencySucceeded  = "succeeded"
	IdempotencyFailed     = "failed"
)

// Operation types recorded against an idempotency key.
const (
	OperationCommit = "commit"
)

// IdempotencyRecord deduplicates client-submitted commit requests. A key
// maps to exactly one outcome; concurrent duplicates observe the single
// winner's stored result instead of re-executing side effects.
type IdempotencyRecord struct {
	bun.BaseModel `bun:"table:idempotency_records"`

	Key              string          `bun:"key,pk" json:"key"`
	ReservationToken string          `bun:"reservation_token,notnull" json:"reservation_token"`
	OperationType    string          `bun:"operation_type,notnull" json:"operation_type"`
	Status           string          `bun:"status,notnull" json:"status"`
	Result           json.RawMessage `bun:"result,nullzero,type:jsonb" json:"result,omitempty"`
	CreatedAt        time.Time       `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	CompletedAt      time.Time       `bun:"completed_at,nullzero" json:"completed_at,omitempty"`
}

// CommitResult is the payload stored on a completed commit key and
// replayed verbatim to retries.
type CommitResult struct {
	OrderID          string `json:"order_id,omitempty"`
	ReservationToken string `json:"reservation_token"`
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
}
