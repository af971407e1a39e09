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

// CreateOrder inserts the durable order row. The unique constraint on
// reservation_token is the final backstop against double commits.
func (d *DB) CreateOrder(ctx context.Context, order *models.CommittedOrder) error {
	_, err := database.IDB(ctx, d.Bun).NewInsert().Model(order).Exec(ctx)
	return err
}

// GetOrderByID fetches one order by its id.
func (d *DB) GetOrderByID(ctx context.Context, orderID string) (*models.CommittedOrder, error) {
	var order models.CommittedOrder
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&order).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetOrderByToken finds the order produced by a reservation, if any.
func (d *DB) GetOrderByToken(ctx context.Context, token string) (*models.CommittedOrder, error) {
	var order models.CommittedOrder
	err := database.IDB(ctx, d.Bun).NewSelect().
		Model(&order).
		Where("reservation_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
