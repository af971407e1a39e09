package db

import (
	"context"
	"database/sql"
	"errors"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- LEDGER ROWS ----------------

// CreateLedger provisions a new pool. The insert is conflict-guarded so a
// second provisioning attempt for the same resource id fails cleanly.
func (d *DB) CreateLedger(ctx context.Context, ledger *models.ResourceLedger) error {
	res, err := database.IDB(ctx, d.Bun).NewInsert().
		Model(ledger).
		On("CONFLICT (resource_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return models.ErrResourceExists
	}
	return nil
}

// GetLedger fetches the current counters and version for one resource.
func (d *DB) GetLedger(ctx context.Context, resourceID string) (*models.ResourceLedger, error) {
	var ledger models.ResourceLedger
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&ledger).
		Where("resource_id = ?", resourceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrResourceNotFound
		}
		return nil, err
	}
	return &ledger, nil
}

// ---------------- ATOMIC COUNTER MOVES ----------------
//
// Each mutation is one conditional UPDATE. The version predicate detects
// racers; the quantity predicates re-assert the ledger invariant at the
// database level even if a caller misbehaves. Zero rows affected means
// the caller must re-read and retry (or give up).

// ReserveCAS moves qty into reserved_quantity if the expected version
// still holds and enough units are available.
func (d *DB) ReserveCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewUpdate().
		Model((*models.ResourceLedger)(nil)).
		Set("reserved_quantity = reserved_quantity + ?", qty).
		Set("version = version + 1").
		Where("resource_id = ?", resourceID).
		Where("version = ?", version).
		Where("total_quantity - reserved_quantity - committed_quantity >= ?", qty).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CommitCAS moves qty from reserved_quantity to committed_quantity.
func (d *DB) CommitCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewUpdate().
		Model((*models.ResourceLedger)(nil)).
		Set("reserved_quantity = reserved_quantity - ?", qty).
		Set("committed_quantity = committed_quantity + ?", qty).
		Set("version = version + 1").
		Where("resource_id = ?", resourceID).
		Where("version = ?", version).
		Where("reserved_quantity >= ?", qty).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ReleaseCAS returns qty from reserved_quantity to available (used on
// cancellation and expiry).
func (d *DB) ReleaseCAS(ctx context.Context, resourceID string, qty int, version int64) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewUpdate().
		Model((*models.ResourceLedger)(nil)).
		Set("reserved_quantity = reserved_quantity - ?", qty).
		Set("version = version + 1").
		Where("resource_id = ?", resourceID).
		Where("version = ?", version).
		Where("reserved_quantity >= ?", qty).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
