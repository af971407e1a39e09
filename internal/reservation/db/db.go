package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

// WithTx runs fn inside one database transaction. Repository calls made
// with the ctx passed to fn join that transaction.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, d.Bun, fn)
}

// CreateReservation inserts a new pending hold.
func (d *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	_, err := database.IDB(ctx, d.Bun).NewInsert().Model(r).Exec(ctx)
	return err
}

// GetReservationByToken fetches one reservation by its client-facing token.
func (d *DB) GetReservationByToken(ctx context.Context, token string) (*models.Reservation, error) {
	var r models.Reservation
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&r).
		Where("token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrReservationNotFound
		}
		return nil, err
	}
	return &r, nil
}

// TransitionStatus flips a reservation from one status to another. The
// WHERE clause on the current status makes the transition atomic: only
// one caller can ever win, which is what keeps terminal states exclusive.
func (d *DB) TransitionStatus(ctx context.Context, token, from, to string) (bool, error) {
	res, err := database.IDB(ctx, d.Bun).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", to).
		Where("token = ?", token).
		Where("status = ?", from).
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

// ListExpiredPending returns up to limit pending reservations whose TTL
// passed before now. Used by the reclaimer; ordering is oldest first so
// long-abandoned holds are freed before fresh ones.
func (d *DB) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var rs []models.Reservation
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&rs).
		Where("status = ?", models.ReservationPending).
		Where("expires_at < ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rs, nil
}
