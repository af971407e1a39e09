package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ms-reservation/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedgerDB is an in-memory DBLayer with the same compare-and-set
// semantics as the SQL implementation. The mutex stands in for the
// atomicity of the conditional UPDATE.
type memLedgerDB struct {
	mu      sync.Mutex
	ledgers map[string]*models.ResourceLedger
}

func newMemLedgerDB() *memLedgerDB {
	return &memLedgerDB{ledgers: make(map[string]*models.ResourceLedger)}
}

func (m *memLedgerDB) CreateLedger(_ context.Context, led *models.ResourceLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledgers[led.ResourceID]; ok {
		return models.ErrResourceExists
	}
	cp := *led
	m.ledgers[led.ResourceID] = &cp
	return nil
}

func (m *memLedgerDB) GetLedger(_ context.Context, resourceID string) (*models.ResourceLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	led, ok := m.ledgers[resourceID]
	if !ok {
		return nil, models.ErrResourceNotFound
	}
	cp := *led
	return &cp, nil
}

func (m *memLedgerDB) ReserveCAS(_ context.Context, resourceID string, qty int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	led, ok := m.ledgers[resourceID]
	if !ok || led.Version != version || led.Available() < qty {
		return false, nil
	}
	led.ReservedQuantity += qty
	led.Version++
	return true, nil
}

func (m *memLedgerDB) CommitCAS(_ context.Context, resourceID string, qty int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	led, ok := m.ledgers[resourceID]
	if !ok || led.Version != version || led.ReservedQuantity < qty {
		return false, nil
	}
	led.ReservedQuantity -= qty
	led.CommittedQuantity += qty
	led.Version++
	return true, nil
}

func (m *memLedgerDB) ReleaseCAS(_ context.Context, resourceID string, qty int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	led, ok := m.ledgers[resourceID]
	if !ok || led.Version != version || led.ReservedQuantity < qty {
		return false, nil
	}
	led.ReservedQuantity -= qty
	led.Version++
	return true, nil
}

func TestProvision_RejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(newMemLedgerDB(), nil, 0)

	_, err := svc.Provision(context.Background(), "drop-1", 0)
	assert.Error(t, err)

	_, err = svc.Provision(context.Background(), "drop-1", -5)
	assert.Error(t, err)
}

func TestReserve_SoldOutIsNotRetried(t *testing.T) {
	db := newMemLedgerDB()
	svc := NewService(db, nil, 3)
	ctx := context.Background()

	_, err := svc.Provision(ctx, "drop-1", 2)
	require.NoError(t, err)

	require.NoError(t, svc.Reserve(ctx, "drop-1", 2))
	assert.ErrorIs(t, svc.Reserve(ctx, "drop-1", 1), models.ErrInsufficientStock)
}

func TestCommit_MoreThanReservedIsInvariantViolation(t *testing.T) {
	db := newMemLedgerDB()
	svc := NewService(db, nil, 3)
	ctx := context.Background()

	_, err := svc.Provision(ctx, "drop-1", 10)
	require.NoError(t, err)
	require.NoError(t, svc.Reserve(ctx, "drop-1", 2))

	assert.ErrorIs(t, svc.Commit(ctx, "drop-1", 3), models.ErrInvariantViolation)
	assert.ErrorIs(t, svc.Release(ctx, "drop-1", 3), models.ErrInvariantViolation)
}

func TestReserve_ExhaustedRetriesSurfaceConcurrentModification(t *testing.T) {
	db := newMemLedgerDB()
	ctx := context.Background()

	_, err := NewService(db, nil, 2).Provision(ctx, "drop-1", 100)
	require.NoError(t, err)

	// A wrapper that bumps the version behind every read forces a CAS
	// miss on each attempt.
	svc := NewService(&alwaysConflict{inner: db}, nil, 2)
	assert.ErrorIs(t, svc.Reserve(ctx, "drop-1", 1), models.ErrConcurrentModification)
}

type alwaysConflict struct {
	inner *memLedgerDB
}

func (a *alwaysConflict) CreateLedger(ctx context.Context, led *models.ResourceLedger) error {
	return a.inner.CreateLedger(ctx, led)
}

func (a *alwaysConflict) GetLedger(ctx context.Context, resourceID string) (*models.ResourceLedger, error) {
	led, err := a.inner.GetLedger(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	led.Version-- // stale snapshot, every CAS will miss
	return led, nil
}

func (a *alwaysConflict) ReserveCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	return a.inner.ReserveCAS(ctx, resourceID, qty, version)
}

func (a *alwaysConflict) CommitCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	return a.inner.CommitCAS(ctx, resourceID, qty, version)
}

func (a *alwaysConflict) ReleaseCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	return a.inner.ReleaseCAS(ctx, resourceID, qty, version)
}

// TestReserve_ExactSellout hammers one pool from many goroutines. Callers
// that lose the retry budget try again, so every request ends in either a
// reserved unit or a definitive sold-out answer, and the pool is never
// oversold.
func TestReserve_ExactSellout(t *testing.T) {
	db := newMemLedgerDB()
	svc := NewService(db, nil, 5)
	ctx := context.Background()

	const total = 60
	const callers = 200

	_, err := svc.Provision(ctx, "drop-1", total)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved, soldOut := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := svc.Reserve(ctx, "drop-1", 1)
				if errors.Is(err, models.ErrConcurrentModification) {
					continue
				}
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					reserved++
				} else if errors.Is(err, models.ErrInsufficientStock) {
					soldOut++
				} else {
					t.Errorf("unexpected reserve error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, total, reserved)
	assert.Equal(t, callers-total, soldOut)

	led, err := svc.Get(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, total, led.ReservedQuantity)
	assert.Equal(t, 0, led.Available())
}
