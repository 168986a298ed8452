// Package repositories provides raw-SQL data access over Postgres. Each
// repository reads its connection from the context when a transaction scope
// is present, so the same code serves pooled reads and per-record
// transactional writes.
package repositories

import (
	"context"

	"github.com/civicdata-io/civic-engine/pkg/database"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// conn returns the transaction-scoped Querier when one is in the context,
// otherwise the shared pool.
func conn(ctx context.Context, db *database.DB) database.Querier {
	if q, ok := database.TxFromContext(ctx); ok {
		return q
	}
	return db.Pool
}
