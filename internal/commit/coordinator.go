package commit

import (
	"context"
	"errors"
	"fmt"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/google/uuid"
)

type ReservationDB interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error)
	TransitionStatus(ctx context.Context, token, from, to string) (bool, error)
}

type OrderDB interface {
	CreateOrder(ctx context.Context, order *models.CommittedOrder) error
	GetOrderByToken(ctx context.Context, token string) (*models.CommittedOrder, error)
}

// Ledger is the slice of the ledger service the coordinator uses.
type Ledger interface {
	Commit(ctx context.Context, resourceID string, qty int) error
}

type KafkaPublisher interface {
	PublishOrderCommitted(order models.CommittedOrder) error
}

// Coordinator turns a valid, unexpired reservation plus a successful
// payment into a durable order. The status transition, the ledger move
// and the order insert happen in one transaction: either all three land
// or the reservation stays pending.
//
// CommitReservation is only called from inside an idempotency-guarded
// context; it is not safe against concurrent retries of the same key on
// its own.
type Coordinator struct {
	Reservations ReservationDB
	Orders       OrderDB
	Ledger       Ledger
	Kafka        KafkaPublisher
	Clock        clock.Clock
	Logger       *logger.Logger
}

func NewCoordinator(res ReservationDB, orders OrderDB, led Ledger, kafka KafkaPublisher, clk clock.Clock, log *logger.Logger) *Coordinator {
	return &Coordinator{Reservations: res, Orders: orders, Ledger: led, Kafka: kafka, Clock: clk, Logger: log}
}

// CommitReservation finalizes the hold identified by token.
//
// Policy on failed payment: the reservation is left pending so the client
// can retry with a fresh payment until the TTL runs out. Nothing in the
// ledger moves.
//
// A reservation already committed under a different idempotency key
// returns the prior order together with ErrAlreadyCommitted; same-key
// retries never reach this function because the guard replays the stored
// result.
func (c *Coordinator) CommitReservation(ctx context.Context, token, idempotencyKey string, payment models.PaymentResult) (*models.CommittedOrder, error) {
	r, err := c.Reservations.GetReservationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	switch r.Status {
	case models.ReservationCommitted:
		prior, err := c.Orders.GetOrderByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		return prior, models.ErrAlreadyCommitted
	case models.ReservationExpired:
		return nil, models.ErrReservationExpired
	case models.ReservationCancelled:
		return nil, models.ErrInvalidState
	}

	// The reclaimer may not have swept yet; the TTL check cannot rely on
	// status alone.
	if r.ExpiredBy(c.Clock.Now()) {
		return nil, models.ErrReservationExpired
	}

	if !payment.Succeeded {
		if c.Logger != nil {
			c.Logger.Warn("COMMIT", fmt.Sprintf("payment not confirmed for reservation %s, hold stays pending", token))
		}
		return nil, models.ErrPaymentNotConfirmed
	}

	order := &models.CommittedOrder{
		OrderID:          uuid.NewString(),
		ReservationToken: token,
		ResourceID:       r.ResourceID,
		Quantity:         r.Quantity,
		IdempotencyKey:   idempotencyKey,
		PaymentReference: payment.Reference,
		CreatedAt:        c.Clock.Now(),
	}

	// The status transition goes first: it is the atomic single-winner
	// step, so a racing commit resolves here before any counters move.
	// Running the ledger move afterwards keeps a race loser from reading
	// a ledger the winner already drained and misreading that as drift.
	var prior *models.CommittedOrder
	err = c.Reservations.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := c.Reservations.TransitionStatus(txCtx, token, models.ReservationPending, models.ReservationCommitted)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race with another commit, a cancel or the reclaimer.
			current, err := c.Reservations.GetReservationByToken(txCtx, token)
			if err != nil {
				return err
			}
			switch current.Status {
			case models.ReservationCommitted:
				prior, err = c.Orders.GetOrderByToken(txCtx, token)
				if err != nil {
					return err
				}
				return models.ErrAlreadyCommitted
			case models.ReservationExpired:
				return models.ErrReservationExpired
			default:
				return models.ErrInvalidState
			}
		}

		if err := c.Ledger.Commit(txCtx, r.ResourceID, r.Quantity); err != nil {
			return err
		}

		return c.Orders.CreateOrder(txCtx, order)
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyCommitted) {
			return prior, err
		}
		return nil, err
	}

	if c.Logger != nil {
		c.Logger.LogReservation("COMMIT", token, fmt.Sprintf("order %s created for %d units of %s", order.OrderID, order.Quantity, order.ResourceID))
	}

	if c.Kafka != nil {
		if err := c.Kafka.PublishOrderCommitted(*order); err != nil && c.Logger != nil {
			c.Logger.Warn("KAFKA", fmt.Sprintf("order committed event not published: %v", err))
		}
	}

	return order, nil
}
