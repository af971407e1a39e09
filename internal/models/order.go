package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CommittedOrder is the durable record created exactly once per committed
// reservation. Rows are never mutated after insert; refunds use
// compensating records, not in-place edits.
type CommittedOrder struct {
	bun.BaseModel `bun:"table:committed_orders"`

	OrderID          string    `bun:"order_id,pk" json:"order_id"`
	ReservationToken string    `bun:"reservation_token,notnull,unique" json:"reservation_token"`
	ResourceID       string    `bun:"resource_id,notnull" json:"resource_id"`
	Quantity         int       `bun:"quantity,notnull" json:"quantity"`
	IdempotencyKey   string    `bun:"idempotency_key,notnull" json:"idempotency_key"`
	PaymentReference string    `bun:"payment_reference,nullzero" json:"payment_reference,omitempty"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
