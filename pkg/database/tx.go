package database

import (
	"context"
	"fmt"
)

type contextKey string

// txScopeKey is the context key for the transaction-scoped Querier.
const txScopeKey contextKey = "txScope"

// TxFromContext retrieves the transaction-scoped Querier from context.
// Returns nil and false if the context carries no transaction.
func TxFromContext(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(txScopeKey).(Querier)
	return q, ok
}

// withTx stores the transaction-scoped Querier in context.
func withTx(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, txScopeKey, q)
}

// TxRunner runs a function inside a database transaction. The import pipeline
// uses one transaction per record so that a failed upsert can be rolled back
// without poisoning the connection state for the next record.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ TxRunner = (*DB)(nil)

// InTx begins a transaction, places it in the context for repositories to pick
// up, and runs fn. The transaction commits when fn returns nil and rolls back
// otherwise. The deferred rollback is a no-op after a successful commit, so
// the transaction resource is released on every exit path.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
