// Package storage defines the minimal query-execution contract every
// DAO is written against. The contract is implemented twice: an embedded
// single-file backend (modernc.org/sqlite) and a networked backend
// (PostgreSQL via pgx). DAOs never see a concrete backend.
//
// Queries are written with `?` placeholders; backends that bind
// positionally ($1, $2, ...) rewrite them. SQL passed through this
// contract must stick to what both backends can express: placeholder
// binding, INSERT ... ON CONFLICT DO NOTHING, RETURNING, and
// transactions.
package storage

import (
	"context"
	"errors"
)

// ErrNoRows is returned by First when the query matches nothing.
// Backends translate their driver's no-rows sentinel to this one.
var ErrNoRows = errors.New("storage: no rows")

// ErrNestedTx is returned when WithTx is called on an engine that is
// already inside a transaction. Reentrant transactions are deliberately
// unsupported; callers serialize.
var ErrNestedTx = errors.New("storage: nested transaction")

// Row scans one result row. Both database/sql rows and pgx rows satisfy
// it directly.
type Row interface {
	Scan(dest ...any) error
}

// Engine is the parameterized-query execution contract.
type Engine interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Each runs a query and calls fn once per row, lazily; returning an
	// error from fn stops iteration and propagates.
	Each(ctx context.Context, query string, args []any, fn func(Row) error) error

	// First runs a query and scans the first row into dest. Returns
	// ErrNoRows if nothing matched.
	First(ctx context.Context, query string, args []any, dest ...any) error

	// WithTx runs fn with an Engine whose statements are atomic: if fn
	// returns an error the transaction is rolled back and the error
	// propagates. The tx-scoped engine must not be retained after fn
	// returns, and calling WithTx on it fails with ErrNestedTx.
	WithTx(ctx context.Context, fn func(tx Engine) error) error
}
