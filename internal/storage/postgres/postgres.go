// Package postgres implements the storage.Engine contract over a pooled
// PostgreSQL connection using pgx. A single Engine (one pool) serves all
// identities.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearsay-net/hearsay/internal/storage"
)

// Engine is the networked backend. Use Open to create one.
type Engine struct {
	pool *pgxpool.Pool
	tx   pgx.Tx // non-nil when scoped to a transaction
}

// Open connects to PostgreSQL, verifies the connection, and bootstraps
// the schema.
func Open(ctx context.Context, connString string) (*Engine, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: bootstrap schema: %w", err)
	}

	return &Engine{pool: pool}, nil
}

// Close shuts down the connection pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Exec implements storage.Engine.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) error {
	var err error
	if e.tx != nil {
		_, err = e.tx.Exec(ctx, rebind(query), args...)
	} else {
		_, err = e.pool.Exec(ctx, rebind(query), args...)
	}
	if err != nil {
		return fmt.Errorf("postgres: exec: %w", err)
	}
	return nil
}

// Each implements storage.Engine.
func (e *Engine) Each(ctx context.Context, query string, args []any, fn func(storage.Row) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	if e.tx != nil {
		rows, err = e.tx.Query(ctx, rebind(query), args...)
	} else {
		rows, err = e.pool.Query(ctx, rebind(query), args...)
	}
	if err != nil {
		return fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: iterate: %w", err)
	}
	return nil
}

// First implements storage.Engine.
func (e *Engine) First(ctx context.Context, query string, args []any, dest ...any) error {
	var row pgx.Row
	if e.tx != nil {
		row = e.tx.QueryRow(ctx, rebind(query), args...)
	} else {
		row = e.pool.QueryRow(ctx, rebind(query), args...)
	}
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNoRows
	}
	if err != nil {
		return fmt.Errorf("postgres: first: %w", err)
	}
	return nil
}

// WithTx implements storage.Engine. Nesting is rejected.
func (e *Engine) WithTx(ctx context.Context, fn func(storage.Engine) error) error {
	if e.tx != nil {
		return storage.ErrNestedTx
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	if err := fn(&Engine{pool: e.pool, tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("postgres: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// rebind rewrites `?` placeholders to PostgreSQL's positional `$n` form.
// The contract's queries never contain a literal question mark outside a
// placeholder position.
func rebind(query string) string {
	if !strings.ContainsRune(query, '?') {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
