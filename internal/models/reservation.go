package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reservation statuses. Pending is the only non-terminal state; exactly
// one terminal transition may ever happen per reservation.
const (
	ReservationPending   = "pending"
	ReservationCommitted = "committed"
	ReservationExpired   = "expired"
	ReservationCancelled = "cancelled"
)

// Reservation is a time-boxed hold of quantity against a resource ledger.
// The token is the only handle a client needs to commit or cancel.
type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	Token       string    `bun:"token,pk" json:"token"`
	ResourceID  string    `bun:"resource_id,notnull" json:"resource_id"`
	RequesterID string    `bun:"requester_id,notnull" json:"requester_id"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	Status      string    `bun:"status,notnull" json:"status"`
	ExpiresAt   time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// ExpiredBy reports whether the hold's TTL has passed at the given instant.
// The commit path checks this directly instead of trusting Status, since
// the reclaimer may not have swept the row yet.
func (r *Reservation) ExpiredBy(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
