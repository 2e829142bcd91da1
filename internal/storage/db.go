// Package storage holds the repository adapters for every abstract
// persisted table each domain store needs: an in-memory adapter per interface
// for tests, and a sqlx-backed Postgres adapter
// for production, following a plain-record-plus-repository
// shape (no ORM, no generated query builder) generalized from
// pkg/state.Manager's Load/Save contract onto parameterized SQL.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Open establishes a connection pool against dsn (a Postgres connection
// string) using the pgx stdlib driver, and verifies it with a ping before
// returning. Migration/schema management is out of scope per the
// Non-goals — callers are expected to run against an already-migrated
// database.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	return db, nil
}
