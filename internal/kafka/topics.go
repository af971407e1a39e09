package kafka

// Event types carried on the reservation and order topics.
const (
	EventReservationCreated   = "reservation_created"
	EventReservationCancelled = "reservation_cancelled"
	EventReservationExpired   = "reservation_expired"
	EventOrderCommitted       = "order_committed"
)
