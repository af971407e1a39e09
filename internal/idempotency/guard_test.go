package idempotency

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"ms-reservation/internal/clock"
	idemdb "ms-reservation/internal/idempotency/db"
	"ms-reservation/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupGuardDB(t *testing.T) *idemdb.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, bunDB.ResetModel(context.Background(), (*models.IdempotencyRecord)(nil)))

	t.Cleanup(func() { bunDB.Close() })
	return &idemdb.DB{Bun: bunDB}
}

func setupCache(t *testing.T) *Cache {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client, time.Hour)
}

func newTestGuard(db DBLayer, cache ResultCache) *Guard {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewGuard(db, cache, clk, nil, 300*time.Millisecond, 20*time.Millisecond)
}

func TestBegin_FirstCallerProceeds(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)

	out, err := g.Begin(context.Background(), "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.True(t, out.Proceed)
	assert.Nil(t, out.Record)
}

func TestBegin_EmptyKeyRejected(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)

	_, err := g.Begin(context.Background(), "", models.OperationCommit, "tok-1")
	assert.Error(t, err)
}

func TestBegin_CompletedKeyReplaysStoredResult(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	_, err = g.Complete(ctx, "key-1", models.IdempotencySucceeded, models.CommitResult{
		OrderID:          "order-9",
		ReservationToken: "tok-1",
		Status:           models.ReservationCommitted,
	})
	require.NoError(t, err)

	out, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	require.NotNil(t, out.Record)
	assert.Equal(t, models.IdempotencySucceeded, out.Record.Status)
	assert.Contains(t, string(out.Record.Result), "order-9")
}

func TestBegin_InFlightKeyTimesOut(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	// The winner never completes; a duplicate must not run the operation,
	// it gets told to retry later.
	start := time.Now()
	_, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	assert.ErrorIs(t, err, models.ErrRetryLater)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestBegin_WaitsForWinnerThenReplays(t *testing.T) {
	db := setupGuardDB(t)
	g := newTestGuard(db, nil)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_, _ = g.Complete(ctx, "key-1", models.IdempotencySucceeded, models.CommitResult{
			OrderID:          "order-9",
			ReservationToken: "tok-1",
			Status:           models.ReservationCommitted,
		})
	}()

	out, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	require.NotNil(t, out.Record)
	assert.Equal(t, models.IdempotencySucceeded, out.Record.Status)
}

func TestBegin_ExactlyOneWinnerUnderContention(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners, retries := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && out.Proceed:
				winners++
			case err == models.ErrRetryLater:
				retries++
			default:
				t.Errorf("unexpected begin outcome: %+v, %v", out, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, callers-1, retries)
}

func TestAbort_ReleasesKeyForRetry(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	g.Abort(ctx, "key-1")

	// The key is claimable again.
	out, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.True(t, out.Proceed)
}

func TestComplete_FailedOutcomeIsReplayedToo(t *testing.T) {
	g := newTestGuard(setupGuardDB(t), nil)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	_, err = g.Complete(ctx, "key-1", models.IdempotencyFailed, models.CommitResult{
		ReservationToken: "tok-1",
		Status:           models.ReservationExpired,
		Error:            "reservation_expired",
	})
	require.NoError(t, err)

	out, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	assert.Equal(t, models.IdempotencyFailed, out.Record.Status)
}

func TestGuard_CacheFastPath(t *testing.T) {
	db := setupGuardDB(t)
	cache := setupCache(t)
	g := newTestGuard(db, cache)
	ctx := context.Background()

	out, err := g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	require.True(t, out.Proceed)

	_, err = g.Complete(ctx, "key-1", models.IdempotencySucceeded, models.CommitResult{
		OrderID:          "order-9",
		ReservationToken: "tok-1",
		Status:           models.ReservationCommitted,
	})
	require.NoError(t, err)

	// Drop the table row: the cached copy alone must answer the retry.
	_, err = db.Bun.NewDelete().
		Model((*models.IdempotencyRecord)(nil)).
		Where("key = ?", "key-1").
		Exec(ctx)
	require.NoError(t, err)

	out, err = g.Begin(ctx, "key-1", models.OperationCommit, "tok-1")
	require.NoError(t, err)
	assert.False(t, out.Proceed)
	require.NotNil(t, out.Record)
	assert.Equal(t, models.IdempotencySucceeded, out.Record.Status)
}

func TestCache_MissAndCorruptEntry(t *testing.T) {
	cache := setupCache(t)
	ctx := context.Background()

	rec, err := cache.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, cache.Client.Set(ctx, cacheKeyPrefix+"bad", "{not json", 0).Err())
	rec, err = cache.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
