package models

import "errors"

// Error taxonomy shared by the ledger, reservation and commit layers.
// Handlers map these onto HTTP status codes with errors.Is.
var (
	// ErrInsufficientStock means the resource is exhausted. This is a
	// first-class "sold out" answer, not an internal failure.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrentModification is returned after the ledger retry budget
	// is spent on optimistic version conflicts. Transient; callers may retry.
	ErrConcurrentModification = errors.New("concurrent modification, retry later")

	// ErrResourceNotFound means no ledger row exists for the resource.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrResourceExists means a ledger pool was already provisioned under
	// that resource id. TotalQuantity is immutable once set.
	ErrResourceExists = errors.New("resource already provisioned")

	// ErrReservationNotFound means no reservation matches the token.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationExpired means the reservation TTL has passed (or the
	// reclaimer already marked it expired).
	ErrReservationExpired = errors.New("reservation expired")

	// ErrAlreadyCommitted means the reservation was committed under a
	// different idempotency key.
	ErrAlreadyCommitted = errors.New("reservation already committed")

	// ErrInvalidState means the requested transition is not allowed from
	// the reservation's current status.
	ErrInvalidState = errors.New("invalid reservation state")

	// ErrRetryLater means a duplicate idempotency key is still in flight
	// and did not resolve within the wait window.
	ErrRetryLater = errors.New("operation in progress, retry later")

	// ErrPaymentNotConfirmed means the supplied payment proof did not
	// verify as succeeded.
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrInvariantViolation signals ledger/reservation drift. Never retried
	// automatically; requires operator attention.
	ErrInvariantViolation = errors.New("ledger invariant violation")
)
