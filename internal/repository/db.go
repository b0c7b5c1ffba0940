package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor runs fn inside a database transaction. Repository calls made
// with the ctx handed to fn join that transaction; nested calls open a
// savepoint.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type pgTransactor struct{ pool *pgxpool.Pool }

func NewTransactor(pool *pgxpool.Pool) Transactor {
	return &pgTransactor{pool: pool}
}

func (t *pgTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if outer, ok := txFrom(ctx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = t.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

func conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return pool
}
