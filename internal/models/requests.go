package models

import "time"

// CreateResourceRequest provisions a new ledger pool.
type CreateResourceRequest struct {
	ResourceID    string `json:"resource_id"`
	TotalQuantity int    `json:"total_quantity"`
}

// CreateReservationRequest is the body of POST /api/v1/reservations.
type CreateReservationRequest struct {
	ResourceID  string `json:"resource_id"`
	RequesterID string `json:"requester_id"`
	Quantity    int    `json:"quantity"`
	TTLSeconds  int    `json:"ttl_seconds"`
}

// CreateReservationResponse returns the opaque token the client uses for
// commit and cancel.
type CreateReservationResponse struct {
	Token      string    `json:"token"`
	ResourceID string    `json:"resource_id"`
	Quantity   int       `json:"quantity"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CommitReservationRequest is the body of POST /reservations/{token}/commit.
type CommitReservationRequest struct {
	IdempotencyKey  string `json:"idempotency_key"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// CommitReservationResponse echoes the durable order produced by the
// commit, identical across idempotent retries.
type CommitReservationResponse struct {
	OrderID          string `json:"order_id"`
	ReservationToken string `json:"reservation_token"`
	Status           string `json:"status"`
}
