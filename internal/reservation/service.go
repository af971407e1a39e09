package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/google/uuid"
)

type DBLayer interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error)
	TransitionStatus(ctx context.Context, token, from, to string) (bool, error)
}

// Ledger is the slice of the ledger service the reservation manager uses.
type Ledger interface {
	Reserve(ctx context.Context, resourceID string, qty int) error
	Release(ctx context.Context, resourceID string, qty int) error
}

type KafkaPublisher interface {
	PublishReservationCreated(r models.Reservation) error
	PublishReservationCancelled(r models.Reservation) error
}

// TTLPolicy clamps client-requested hold durations.
type TTLPolicy struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

func (p TTLPolicy) clamp(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return p.Default
	}
	if ttl < p.Min {
		return p.Min
	}
	if ttl > p.Max {
		return p.Max
	}
	return ttl
}

// Service creates and cancels holds. It performs no deduplication of its
// own: two identical createReservation calls are two reservations. Safe
// retry belongs to the commit path and its idempotency keys.
type Service struct {
	DB     DBLayer
	Ledger Ledger
	Kafka  KafkaPublisher
	Clock  clock.Clock
	Logger *logger.Logger
	TTL    TTLPolicy
}

func NewService(db DBLayer, led Ledger, kafka KafkaPublisher, clk clock.Clock, log *logger.Logger, ttl TTLPolicy) *Service {
	return &Service{DB: db, Ledger: led, Kafka: kafka, Clock: clk, Logger: log, TTL: ttl}
}

// CreateReservation claims qty units from the ledger and records the hold,
// both inside one transaction: a failure (or crash) anywhere between the
// two leaves neither, so no units are ever held without a reservation row
// for the reclaimer to find. On ErrInsufficientStock nothing is written.
func (s *Service) CreateReservation(ctx context.Context, resourceID, requesterID string, qty int, ttl time.Duration) (*models.Reservation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", qty)
	}
	if requesterID == "" {
		return nil, errors.New("requester id is required")
	}

	now := s.Clock.Now()
	r := &models.Reservation{
		Token:       uuid.NewString(),
		ResourceID:  resourceID,
		RequesterID: requesterID,
		Quantity:    qty,
		Status:      models.ReservationPending,
		ExpiresAt:   now.Add(s.TTL.clamp(ttl)),
		CreatedAt:   now,
	}

	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.Ledger.Reserve(txCtx, resourceID, qty); err != nil {
			return err
		}
		if err := s.DB.CreateReservation(txCtx, r); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.LogReservation("CREATE", r.Token, fmt.Sprintf("%d units of %s held until %s", qty, resourceID, r.ExpiresAt.Format(time.RFC3339)))
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishReservationCreated(*r); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("reservation created event not published: %v", err))
		}
	}

	return r, nil
}

// GetReservation looks up a hold by token.
func (s *Service) GetReservation(ctx context.Context, token string) (*models.Reservation, error) {
	return s.DB.GetReservationByToken(ctx, token)
}

// CancelReservation transitions pending -> cancelled and returns the held
// units to the ledger, both inside one transaction. Cancelling a
// committed, expired or already-cancelled reservation fails with
// ErrInvalidState.
func (s *Service) CancelReservation(ctx context.Context, token string) error {
	var cancelled models.Reservation

	err := s.DB.WithTx(ctx, func(txCtx context.Context) error {
		r, err := s.DB.GetReservationByToken(txCtx, token)
		if err != nil {
			return err
		}

		ok, err := s.DB.TransitionStatus(txCtx, token, models.ReservationPending, models.ReservationCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrInvalidState
		}

		if err := s.Ledger.Release(txCtx, r.ResourceID, r.Quantity); err != nil {
			return err
		}

		cancelled = *r
		cancelled.Status = models.ReservationCancelled
		return nil
	})
	if err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.LogReservation("CANCEL", token, fmt.Sprintf("released %d units of %s", cancelled.Quantity, cancelled.ResourceID))
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishReservationCancelled(cancelled); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("reservation cancelled event not published: %v", err))
		}
	}

	return nil
}
