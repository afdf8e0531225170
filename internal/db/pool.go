// Package db provides shared database helpers: the pool interface the
// Postgres store runs against, transaction and savepoint scoping, and
// upsert statement building for both SQL dialects.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise.
func WithTx(ctx context.Context, pool Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "db: begin tx")
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return eris.Wrapf(err, "db: rollback also failed: %v", rbErr)
		}
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "db: commit tx")
}

// ExecFunc executes a statement without arguments on an open transaction.
type ExecFunc func(ctx context.Context, sql string) error

// PgxExec adapts a pgx transaction to ExecFunc.
func PgxExec(tx pgx.Tx) ExecFunc {
	return func(ctx context.Context, sql string) error {
		_, err := tx.Exec(ctx, sql)
		return err
	}
}

// Savepoint runs fn inside a named savepoint. When fn fails only its own
// writes are rolled back and the surrounding transaction stays usable.
func Savepoint(ctx context.Context, exec ExecFunc, name string, fn func() error) error {
	ident := pgx.Identifier{name}.Sanitize()
	if err := exec(ctx, "SAVEPOINT "+ident); err != nil {
		return eris.Wrapf(err, "db: savepoint %s", name)
	}
	if err := fn(); err != nil {
		if rbErr := exec(ctx, "ROLLBACK TO SAVEPOINT "+ident); rbErr != nil {
			return eris.Wrapf(rbErr, "db: rollback to savepoint %s", name)
		}
		return err
	}
	return eris.Wrapf(exec(ctx, "RELEASE SAVEPOINT "+ident), "db: release savepoint %s", name)
}
