// Package repository provides the PostgreSQL persistence layer. Repositories
// speak database/sql so they run against both the pooled connection and an
// open transaction.
package repository

import (
	"context"
	"database/sql"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows, so single-row and
// multi-row reads share one scan helper per entity.
type rowScanner interface {
	Scan(dest ...any) error
}
