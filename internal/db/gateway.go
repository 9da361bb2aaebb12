package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the gateway.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// RowScanner is implemented by *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// ScanFunc maps one result row to a value.
type ScanFunc[T any] func(RowScanner) (T, error)

// RunResult reports the outcome of a statement that returns no rows.
// LastInsertID is set only for INSERT ... RETURNING id statements.
type RunResult struct {
	RowsAffected int64
	LastInsertID int64
}

type txKey struct{}

// Gateway executes parameterised statements against PostgreSQL. When the context
// carries a transaction opened by WithinTx, statements run inside it.
type Gateway struct {
	db *sql.DB
}

// NewGateway wraps an open database handle.
func NewGateway(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

func (g *Gateway) conn(ctx context.Context) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return g.db
}

// WithinTx runs fn in a transaction carried by the context passed to fn.
// Nested calls reuse the outer transaction.
func (g *Gateway) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.db.PingContext(ctx)
}

// Run executes a statement returning no rows. Statements ending in a
// RETURNING clause must return exactly one integer column, reported as LastInsertID.
func (g *Gateway) Run(ctx context.Context, query string, args ...any) (RunResult, error) {
	c := g.conn(ctx)

	if hasReturning(query) {
		var id int64
		if err := c.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return RunResult{}, err
		}
		return RunResult{RowsAffected: 1, LastInsertID: id}, nil
	}

	res, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return RunResult{}, err
	}
	n, _ := res.RowsAffected()
	return RunResult{RowsAffected: n}, nil
}

// Query returns all rows mapped through scan.
func Query[T any](ctx context.Context, g *Gateway, scan ScanFunc[T], query string, args ...any) ([]T, error) {
	rows, err := g.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// First returns the first row. found is false when the query matched nothing;
// err is reserved for infrastructure failures.
func First[T any](ctx context.Context, g *Gateway, scan ScanFunc[T], query string, args ...any) (v T, found bool, err error) {
	v, err = scan(g.conn(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

func hasReturning(query string) bool {
	return strings.Contains(strings.ToUpper(query), "RETURNING")
}
