package commit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"ms-reservation/internal/clock"
	commitdb "ms-reservation/internal/commit/db"
	"ms-reservation/internal/ledger"
	ledgerdb "ms-reservation/internal/ledger/db"
	"ms-reservation/internal/models"
	resdb "ms-reservation/internal/reservation/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// harness wires the coordinator against a real sqlite database so the
// transactional behavior is exercised, not mocked.
type harness struct {
	db           *bun.DB
	coordinator  *Coordinator
	ledgerSvc    *ledger.Service
	ledgerDB     *ledgerdb.DB
	reservations *resdb.DB
	orders       *commitdb.DB
	clk          *clock.Fixed
}

func setupHarness(t *testing.T) *harness {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx,
		(*models.ResourceLedger)(nil),
		(*models.Reservation)(nil),
		(*models.CommittedOrder)(nil),
	))
	t.Cleanup(func() { bunDB.Close() })

	ldb := &ledgerdb.DB{Bun: bunDB}
	ledgerSvc := ledger.NewService(ldb, nil, 3)
	reservations := &resdb.DB{Bun: bunDB}
	orders := &commitdb.DB{Bun: bunDB}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	return &harness{
		db:           bunDB,
		coordinator:  NewCoordinator(reservations, orders, ledgerSvc, nil, clk, nil),
		ledgerSvc:    ledgerSvc,
		ledgerDB:     ldb,
		reservations: reservations,
		orders:       orders,
		clk:          clk,
	}
}

// seedHold provisions a pool, reserves qty from it and records the
// matching pending reservation.
func (h *harness) seedHold(t *testing.T, token string, total, qty int, ttl time.Duration) {
	ctx := context.Background()
	_, err := h.ledgerSvc.Provision(ctx, "drop-1", total)
	require.NoError(t, err)
	require.NoError(t, h.ledgerSvc.Reserve(ctx, "drop-1", qty))
	require.NoError(t, h.reservations.CreateReservation(ctx, &models.Reservation{
		Token:       token,
		ResourceID:  "drop-1",
		RequesterID: "user-7",
		Quantity:    qty,
		Status:      models.ReservationPending,
		ExpiresAt:   h.clk.Now().Add(ttl),
		CreatedAt:   h.clk.Now(),
	}))
}

func paymentOK() models.PaymentResult {
	return models.PaymentResult{Succeeded: true, Reference: "pi_test_1"}
}

func TestCommitReservation_Success(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 3, 5*time.Minute)
	ctx := context.Background()

	order, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.NotEmpty(t, order.OrderID)
	assert.Equal(t, "tok-1", order.ReservationToken)
	assert.Equal(t, 3, order.Quantity)
	assert.Equal(t, "pi_test_1", order.PaymentReference)

	r, err := h.reservations.GetReservationByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCommitted, r.Status)

	led, err := h.ledgerDB.GetLedger(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, 0, led.ReservedQuantity)
	assert.Equal(t, 3, led.CommittedQuantity)
	assert.Equal(t, 7, led.Available())

	stored, err := h.orders.GetOrderByID(ctx, order.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "key-1", stored.IdempotencyKey)
}

func TestCommitReservation_SecondKeyGetsPriorOrder(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, 5*time.Minute)
	ctx := context.Background()

	first, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	require.NoError(t, err)

	// A different client retries the same reservation under its own key.
	prior, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-2", paymentOK())
	assert.ErrorIs(t, err, models.ErrAlreadyCommitted)
	require.NotNil(t, prior)
	assert.Equal(t, first.OrderID, prior.OrderID)

	// The ledger moved exactly once.
	led, err := h.ledgerDB.GetLedger(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, led.CommittedQuantity)
}

// stalePendingDB serves one reservation read from a snapshot taken while
// the row was still pending, the view a second in-flight commit holds
// when the first one lands ahead of it.
type stalePendingDB struct {
	*resdb.DB
	stale *models.Reservation
}

func (s *stalePendingDB) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	if s.stale != nil && s.stale.Token == token {
		r := *s.stale
		s.stale = nil
		return &r, nil
	}
	return s.DB.GetReservationByToken(ctx, token)
}

func TestCommitReservation_RaceLoserGetsPriorOrder(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, 5*time.Minute)
	ctx := context.Background()

	pending, err := h.reservations.GetReservationByToken(ctx, "tok-1")
	require.NoError(t, err)

	first, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	require.NoError(t, err)

	// The loser read the reservation before the winner committed; its
	// status transition must resolve the race, not the ledger.
	loser := NewCoordinator(
		&stalePendingDB{DB: h.reservations, stale: pending},
		h.orders, h.ledgerSvc, nil, h.clk, nil,
	)

	prior, err := loser.CommitReservation(ctx, "tok-1", "key-2", paymentOK())
	assert.ErrorIs(t, err, models.ErrAlreadyCommitted)
	assert.NotErrorIs(t, err, models.ErrInvariantViolation)
	require.NotNil(t, prior)
	assert.Equal(t, first.OrderID, prior.OrderID)

	// Exactly one ledger move happened.
	led, err := h.ledgerDB.GetLedger(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, led.CommittedQuantity)
	assert.Equal(t, 0, led.ReservedQuantity)
}

func TestCommitReservation_ExpiredByClock(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, time.Minute)
	ctx := context.Background()

	// Past the TTL but not yet swept: status is still pending.
	h.clk.Advance(2 * time.Minute)

	_, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	assert.ErrorIs(t, err, models.ErrReservationExpired)

	// Nothing moved and no order exists.
	led, err := h.ledgerDB.GetLedger(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, led.ReservedQuantity)
	assert.Equal(t, 0, led.CommittedQuantity)

	order, err := h.orders.GetOrderByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestCommitReservation_ExpiredStatus(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, time.Minute)
	ctx := context.Background()

	ok, err := h.reservations.TransitionStatus(ctx, "tok-1", models.ReservationPending, models.ReservationExpired)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	assert.ErrorIs(t, err, models.ErrReservationExpired)
}

func TestCommitReservation_CancelledIsInvalidState(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, 5*time.Minute)
	ctx := context.Background()

	ok, err := h.reservations.TransitionStatus(ctx, "tok-1", models.ReservationPending, models.ReservationCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.coordinator.CommitReservation(ctx, "tok-1", "key-1", paymentOK())
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCommitReservation_FailedPaymentLeavesPending(t *testing.T) {
	h := setupHarness(t)
	h.seedHold(t, "tok-1", 10, 2, 5*time.Minute)
	ctx := context.Background()

	_, err := h.coordinator.CommitReservation(ctx, "tok-1", "key-1", models.PaymentResult{
		Succeeded: false,
		Detail:    "card_declined",
	})
	assert.ErrorIs(t, err, models.ErrPaymentNotConfirmed)

	// The hold survives for a retry with a fresh payment.
	r, err := h.reservations.GetReservationByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, r.Status)

	led, err := h.ledgerDB.GetLedger(ctx, "drop-1")
	require.NoError(t, err)
	assert.Equal(t, 2, led.ReservedQuantity)
	assert.Equal(t, 0, led.CommittedQuantity)
}

func TestCommitReservation_UnknownToken(t *testing.T) {
	h := setupHarness(t)

	_, err := h.coordinator.CommitReservation(context.Background(), "missing", "key-1", paymentOK())
	assert.ErrorIs(t, err, models.ErrReservationNotFound)
}
