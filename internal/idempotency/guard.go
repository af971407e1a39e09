package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

type DBLayer interface {
	InsertInProgress(ctx context.Context, rec *models.IdempotencyRecord) (bool, error)
	GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	CompleteRecord(ctx context.Context, key, status string, result json.RawMessage, completedAt time.Time) (bool, error)
	DeleteInProgress(ctx context.Context, key string) error
}

// ResultCache is the optional Redis fast path for completed keys.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	Set(ctx context.Context, key string, rec *models.IdempotencyRecord) error
}

// Outcome is what Begin hands back: either the caller owns execution
// (Proceed) or a prior record exists whose stored result must be replayed.
type Outcome struct {
	Proceed bool
	Record  *models.IdempotencyRecord
}

// Guard deduplicates commit requests by client-supplied key. The record
// table is the source of truth; an in_progress row acts as the lock.
// Duplicates of an in-flight key wait a bounded time for the winner and
// are then told to retry later, never to re-execute.
type Guard struct {
	DB           DBLayer
	Cache        ResultCache
	Clock        clock.Clock
	Logger       *logger.Logger
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func NewGuard(db DBLayer, cache ResultCache, clk clock.Clock, log *logger.Logger, wait, poll time.Duration) *Guard {
	if wait <= 0 {
		wait = 3 * time.Second
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Guard{DB: db, Cache: cache, Clock: clk, Logger: log, WaitTimeout: wait, PollInterval: poll}
}

// Begin claims the key or resolves it to a prior outcome.
func (g *Guard) Begin(ctx context.Context, key, operationType, reservationToken string) (*Outcome, error) {
	if key == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	if g.Cache != nil {
		if rec, err := g.Cache.Get(ctx, key); err == nil && rec != nil && rec.Status != models.IdempotencyInProgress {
			return &Outcome{Record: rec}, nil
		}
	}

	rec := &models.IdempotencyRecord{
		Key:              key,
		ReservationToken: reservationToken,
		OperationType:    operationType,
		Status:           models.IdempotencyInProgress,
		CreatedAt:        g.Clock.Now(),
	}

	inserted, err := g.DB.InsertInProgress(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to claim idempotency key: %w", err)
	}
	if inserted {
		return &Outcome{Proceed: true}, nil
	}

	// Someone holds (or held) this key. Poll briefly for their outcome.
	deadline := time.Now().Add(g.WaitTimeout)
	for {
		existing, err := g.DB.GetRecord(ctx, key)
		if err != nil {
			return nil, err
		}

		switch {
		case existing == nil:
			// The winner's row was purged between our insert attempt and
			// this read; try to claim the key ourselves.
			inserted, err := g.DB.InsertInProgress(ctx, rec)
			if err != nil {
				return nil, err
			}
			if inserted {
				return &Outcome{Proceed: true}, nil
			}
		case existing.Status != models.IdempotencyInProgress:
			if g.Cache != nil {
				_ = g.Cache.Set(ctx, key, existing)
			}
			return &Outcome{Record: existing}, nil
		}

		if time.Now().After(deadline) {
			if g.Logger != nil {
				g.Logger.Warn("IDEMPOTENCY", fmt.Sprintf("key %s still in progress after %s", key, g.WaitTimeout))
			}
			return nil, models.ErrRetryLater
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.PollInterval):
		}
	}
}

// Abort releases a claimed key without storing an outcome, used when the
// operation failed transiently and the client should be able to retry
// with the same key.
func (g *Guard) Abort(ctx context.Context, key string) {
	if err := g.DB.DeleteInProgress(ctx, key); err != nil && g.Logger != nil {
		g.Logger.Error("IDEMPOTENCY", fmt.Sprintf("failed to release key %s: %v", key, err))
	}
}

// Complete stores the outcome for a key the caller owns. It must be
// called exactly once per Begin that returned Proceed.
func (g *Guard) Complete(ctx context.Context, key, status string, result models.CommitResult) (*models.IdempotencyRecord, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	completedAt := g.Clock.Now()
	ok, err := g.DB.CompleteRecord(ctx, key, status, payload, completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	if !ok {
		// Our in_progress row disappeared or was completed by someone
		// else. That breaks the single-owner assumption.
		if g.Logger != nil {
			g.Logger.Error("IDEMPOTENCY", fmt.Sprintf("key %s was not in progress at completion time", key))
		}
		existing, err := g.DB.GetRecord(ctx, key)
		if err != nil || existing == nil {
			return nil, models.ErrInvariantViolation
		}
		return existing, nil
	}

	rec := &models.IdempotencyRecord{
		Key:         key,
		Status:      status,
		Result:      payload,
		CompletedAt: completedAt,
	}
	if g.Cache != nil {
		if err := g.Cache.Set(ctx, key, rec); err != nil && g.Logger != nil {
			g.Logger.Warn("IDEMPOTENCY", fmt.Sprintf("result cache write failed for key %s: %v", key, err))
		}
	}
	return rec, nil
}
