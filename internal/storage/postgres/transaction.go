package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"
)

type txContextKey struct{}

// TransactionManager scopes canonical writes. The open transaction travels in the context so
// every store called from fn writes through it.
type TransactionManager struct {
	db *sqlx.DB
}

func NewTransactionManager(db *sqlx.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithTransaction runs fn inside a transaction. A context that already holds one joins it
// instead of opening a nested transaction.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey{}, tx)); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return multierr.Append(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func txFrom(ctx context.Context) *sqlx.Tx {
	tx, _ := ctx.Value(txContextKey{}).(*sqlx.Tx)
	return tx
}

// executor returns the context's transaction, or db outside of one.
func executor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db
}
