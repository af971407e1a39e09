package database

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
)

type txKey struct{}

// WithTx runs fn inside a transaction. The transaction travels in the
// context, so repository methods called from fn automatically join it
// via IDB. Nested calls reuse the outer transaction.
func WithTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// IDB returns the transaction bound to ctx, or the plain database handle
// when no transaction is open.
func IDB(ctx context.Context, db *bun.DB) bun.IDB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

func txFromContext(ctx context.Context) bun.IDB {
	tx, ok := ctx.Value(txKey{}).(bun.Tx)
	if !ok {
		return nil
	}
	return tx
}
