package reclaimer

import (
	"context"
	"fmt"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

type ReservationDB interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	TransitionStatus(ctx context.Context, token, from, to string) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error)
}

// IdempotencyDB lets the sweep purge completed idempotency records past
// the retention window.
type IdempotencyDB interface {
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Ledger interface {
	Release(ctx context.Context, resourceID string, qty int) error
}

type KafkaPublisher interface {
	PublishReservationExpired(r models.Reservation) error
}

// SweepLock keeps replicas from sweeping simultaneously. Sweeps are
// idempotent either way; the lock only avoids wasted work.
type SweepLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

const (
	defaultInterval  = 10 * time.Second
	defaultBatchSize = 200
)

// Reclaimer periodically returns expired, uncommitted holds to available
// inventory. Each reservation is reclaimed in its own small transaction,
// so crashes mid-sweep are retried safely on the next run: once a row is
// expired it is excluded from every later sweep.
type Reclaimer struct {
	DB          ReservationDB
	Idempotency IdempotencyDB
	Ledger      Ledger
	Kafka       KafkaPublisher
	Clock       clock.Clock
	Logger      *logger.Logger
	Lock        SweepLock
	Metrics     *Metrics

	Interval  time.Duration
	BatchSize int
	// Retention controls how long completed idempotency records are kept.
	Retention time.Duration
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	if r.Logger != nil {
		r.Logger.LogReclaimer(fmt.Sprintf("starting sweep loop, interval %s", interval))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.RunOnce(ctx); err != nil {
			if r.Logger != nil {
				r.Logger.Error("RECLAIMER", fmt.Sprintf("sweep failed: %v", err))
			}
		} else if n > 0 && r.Logger != nil {
			r.Logger.LogReclaimer(fmt.Sprintf("reclaimed %d expired reservations", n))
		}

		select {
		case <-ctx.Done():
			if r.Logger != nil {
				r.Logger.LogReclaimer("sweep loop stopped")
			}
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a full sweep and reports how many reservations it
// reclaimed. Bounded batches keep individual transactions short.
func (r *Reclaimer) RunOnce(ctx context.Context) (int, error) {
	if r.Lock != nil {
		ok, err := r.Lock.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			// Another replica is sweeping.
			return 0, nil
		}
		defer func() {
			if err := r.Lock.Release(ctx); err != nil && r.Logger != nil {
				r.Logger.Warn("RECLAIMER", fmt.Sprintf("sweep lock release failed: %v", err))
			}
		}()
	}

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := 0
	for {
		batch, err := r.DB.ListExpiredPending(ctx, r.Clock.Now(), batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		reclaimed := 0
		for i := range batch {
			ok, err := r.reclaimOne(ctx, &batch[i])
			if err != nil {
				if r.Logger != nil {
					r.Logger.Error("RECLAIMER", fmt.Sprintf("failed to reclaim %s: %v", batch[i].Token, err))
				}
				continue
			}
			if ok {
				reclaimed++
			}
		}
		total += reclaimed

		// No progress on a non-empty batch means something is stuck;
		// leave the rows for the next run instead of spinning.
		if reclaimed == 0 {
			break
		}
		if len(batch) < batchSize {
			break
		}
	}

	if r.Idempotency != nil && r.Retention > 0 {
		cutoff := r.Clock.Now().Add(-r.Retention)
		purged, err := r.Idempotency.DeleteCompletedBefore(ctx, cutoff)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn("RECLAIMER", fmt.Sprintf("idempotency purge failed: %v", err))
			}
		} else if r.Metrics != nil {
			r.Metrics.PurgedKeys.Add(float64(purged))
		}
	}

	if r.Metrics != nil {
		r.Metrics.Runs.Inc()
		r.Metrics.Reclaimed.Add(float64(total))
		r.Metrics.LastRunReclaimed.Set(float64(total))
	}

	return total, nil
}

// reclaimOne expires a single pending hold and returns its units, both in
// one transaction. Losing the status race (commit or cancel landed first)
// is not an error, but it is not a reclaim either; the row simply no
// longer qualifies.
func (r *Reclaimer) reclaimOne(ctx context.Context, res *models.Reservation) (bool, error) {
	var expired bool

	err := r.DB.WithTx(ctx, func(txCtx context.Context) error {
		ok, err := r.DB.TransitionStatus(txCtx, res.Token, models.ReservationPending, models.ReservationExpired)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		expired = true
		return r.Ledger.Release(txCtx, res.ResourceID, res.Quantity)
	})
	if err != nil {
		return false, err
	}

	if expired && r.Kafka != nil {
		ev := *res
		ev.Status = models.ReservationExpired
		if err := r.Kafka.PublishReservationExpired(ev); err != nil && r.Logger != nil {
			r.Logger.Warn("KAFKA", fmt.Sprintf("reservation expired event not published: %v", err))
		}
	}

	return expired, nil
}
