package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// DBLayer is the persistence surface the ledger service needs. The real
// implementation lives in internal/ledger/db.
type DBLayer interface {
	CreateLedger(ctx context.Context, ledger *models.ResourceLedger) error
	GetLedger(ctx context.Context, resourceID string) (*models.ResourceLedger, error)
	ReserveCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error)
	CommitCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error)
	ReleaseCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error)
}

// errVersionConflict marks a CAS miss inside the retry loop. It never
// escapes Reserve/Commit/Release.
var errVersionConflict = errors.New("ledger version conflict")

const defaultMaxRetries = 8

// Service owns every mutation of ResourceLedger counters. Each operation
// is read-validate-CAS with bounded exponential backoff on version
// conflicts; after the retry budget it surfaces ErrConcurrentModification
// instead of blocking.
type Service struct {
	DB         DBLayer
	Logger     *logger.Logger
	MaxRetries int
}

func NewService(db DBLayer, log *logger.Logger, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Service{DB: db, Logger: log, MaxRetries: maxRetries}
}

// Provision creates the ledger row for a new resource pool.
func (s *Service) Provision(ctx context.Context, resourceID string, totalQuantity int) (*models.ResourceLedger, error) {
	if totalQuantity <= 0 {
		return nil, fmt.Errorf("total quantity must be positive, got %d", totalQuantity)
	}

	ledger := &models.ResourceLedger{
		ResourceID:    resourceID,
		TotalQuantity: totalQuantity,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.DB.CreateLedger(ctx, ledger); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.LogLedger("PROVISION", resourceID, fmt.Sprintf("pool created with %d units", totalQuantity))
	}
	return ledger, nil
}

// Get returns the current ledger snapshot.
func (s *Service) Get(ctx context.Context, resourceID string) (*models.ResourceLedger, error) {
	return s.DB.GetLedger(ctx, resourceID)
}

// Reserve atomically claims qty units if available. Sold out is reported
// as ErrInsufficientStock without retrying; version conflicts are retried
// with backoff.
func (s *Service) Reserve(ctx context.Context, resourceID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve quantity must be positive, got %d", qty)
	}

	err := s.withRetry(ctx, func() error {
		led, err := s.DB.GetLedger(ctx, resourceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if led.Available() < qty {
			return backoff.Permanent(models.ErrInsufficientStock)
		}
		ok, err := s.DB.ReserveCAS(ctx, resourceID, qty, led.Version)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			// Another worker moved the version (or took the last units);
			// re-read and try again.
			return errVersionConflict
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.Logger != nil {
		s.Logger.LogLedger("RESERVE", resourceID, fmt.Sprintf("reserved %d units", qty))
	}
	return nil
}

// Commit moves qty from reserved to committed. A shortfall in
// reserved_quantity means the ledger and reservations have drifted and is
// surfaced as ErrInvariantViolation, never retried.
func (s *Service) Commit(ctx context.Context, resourceID string, qty int) error {
	err := s.withRetry(ctx, func() error {
		led, err := s.DB.GetLedger(ctx, resourceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if led.ReservedQuantity < qty {
			return backoff.Permanent(models.ErrInvariantViolation)
		}
		ok, err := s.DB.CommitCAS(ctx, resourceID, qty, led.Version)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errVersionConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) && s.Logger != nil {
			s.Logger.Error("LEDGER", fmt.Sprintf("commit of %d units on %s violates reserved quantity invariant", qty, resourceID))
		}
		return err
	}

	if s.Logger != nil {
		s.Logger.LogLedger("COMMIT", resourceID, fmt.Sprintf("committed %d units", qty))
	}
	return nil
}

// Release returns qty from reserved to available.
func (s *Service) Release(ctx context.Context, resourceID string, qty int) error {
	err := s.withRetry(ctx, func() error {
		led, err := s.DB.GetLedger(ctx, resourceID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if led.ReservedQuantity < qty {
			return backoff.Permanent(models.ErrInvariantViolation)
		}
		ok, err := s.DB.ReleaseCAS(ctx, resourceID, qty, led.Version)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errVersionConflict
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) && s.Logger != nil {
			s.Logger.Error("LEDGER", fmt.Sprintf("release of %d units on %s violates reserved quantity invariant", qty, resourceID))
		}
		return err
	}

	if s.Logger != nil {
		s.Logger.LogLedger("RELEASE", resourceID, fmt.Sprintf("released %d units", qty))
	}
	return nil
}

// withRetry runs op under bounded exponential backoff. CAS misses come
// back as errVersionConflict and are translated to
// ErrConcurrentModification once the budget is spent.
func (s *Service) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.MaxRetries)), ctx))
	if errors.Is(err, errVersionConflict) {
		if s.Logger != nil {
			s.Logger.Warn("LEDGER", fmt.Sprintf("giving up after %d optimistic retries", s.MaxRetries))
		}
		return models.ErrConcurrentModification
	}
	return err
}
