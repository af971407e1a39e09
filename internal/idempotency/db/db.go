package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// InsertInProgress claims a key. The conflict-guarded insert is the whole
// locking mechanism: exactly one concurrent caller sees true and owns
// execution of the operation.
func (d *DB) InsertInProgress(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewInsert().
		Model(rec).
		On("CONFLICT (key) DO NOTHING").
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

// GetRecord returns the record for a key, or nil when the key is unknown.
func (d *DB) GetRecord(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&rec).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CompleteRecord records the outcome for a key. Only an in_progress row
// can be completed, and only once.
func (d *DB) CompleteRecord(ctx context.Context, key, status string, result json.RawMessage, completedAt time.Time) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewUpdate().
		Model((*models.IdempotencyRecord)(nil)).
		Set("status = ?", status).
		Set("result = ?", result).
		Set("completed_at = ?", completedAt).
		Where("key = ?", key).
		Where("status = ?", models.IdempotencyInProgress).
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

// DeleteInProgress drops an in_progress claim so the key can be retried.
// Completed rows are never touched by this.
func (d *DB) DeleteInProgress(ctx context.Context, key string) error {
	_, err := database.IDB(ctx, d.Bun).NewDelete().
		Model((*models.IdempotencyRecord)(nil)).
		Where("key = ?", key).
		Where("status = ?", models.IdempotencyInProgress).
		Exec(ctx)
	return err
}

// DeleteCompletedBefore purges completed records older than the retention
// cutoff. In-progress rows are never purged.
func (d *DB) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := database.IDB(ctx, d.Bun).NewDelete().
		Model((*models.IdempotencyRecord)(nil)).
		Where("status != ?", models.IdempotencyInProgress).
		Where("completed_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
