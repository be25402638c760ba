// Package sqlite implements the storage.Engine contract over an embedded
// single-file SQLite database using the cgo-free modernc.org/sqlite
// driver. One Engine is opened per identity namespace.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/hearsay-net/hearsay/internal/storage"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Engine is the embedded backend. Use Open to create one.
type Engine struct {
	db *sql.DB
	q  querier
	tx bool
}

// Open opens (creating if needed) the database file at path, applies the
// pragmas the index depends on, and bootstraps the schema. Pass ":memory:"
// for an ephemeral database (used throughout the tests).
func Open(path string) (*Engine, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite allows a single writer; funnel everything through one
	// connection so the driver never returns SQLITE_BUSY mid-transaction.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: bootstrap schema: %w", err)
	}

	return &Engine{db: db, q: db}, nil
}

// Close closes the underlying database.
func (e *Engine) Close() error {
	if e.tx {
		return errors.New("sqlite: close inside transaction")
	}
	return e.db.Close()
}

// Exec implements storage.Engine.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := e.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

// Each implements storage.Engine.
func (e *Engine) Each(ctx context.Context, query string, args []any, fn func(storage.Row) error) error {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterate: %w", err)
	}
	return nil
}

// First implements storage.Engine.
func (e *Engine) First(ctx context.Context, query string, args []any, dest ...any) error {
	err := e.q.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("sqlite: first: %w", err)
	}
	return nil
}

// WithTx implements storage.Engine. Nesting is rejected.
func (e *Engine) WithTx(ctx context.Context, fn func(storage.Engine) error) error {
	if e.tx {
		return storage.ErrNestedTx
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	if err := fn(&Engine{db: e.db, q: tx, tx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlite: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}
