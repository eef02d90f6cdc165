package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/harborgrid/sessiond/internal/tenant"
)

// Querier is the query surface shared by the pool, a pinned tenant
// connection, and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier returns the connection all data access for this context must
// use: the request's tenant-scoped connection when one is bound, the
// shared pool otherwise. Row-level security keys on the tenant setting
// carried by the scoped connection, so bypassing it would read unscoped.
func (db *DB) Querier(ctx context.Context) Querier {
	if scope, ok := tenant.ScopeFromContext(ctx); ok {
		return scope.Conn()
	}
	return db.Pool
}

// MapPostgresError translates driver errors into the model error
// taxonomy so handlers never see SQLSTATE codes. Unique violations
// surface as conflicts: duplicate active trust grants and concurrent
// fingerprint inserts both land here.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrBadRequest
		case "23514": // check_violation
			return models.ErrBadRequest
		}
	}

	return err
}

// WithTransaction runs fn inside a transaction. Inside a tenant-bound
// request the transaction begins on the scoped connection, keeping
// row-level security in force for transactional writes too.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	var tx pgx.Tx
	var err error
	if scope, ok := tenant.ScopeFromContext(ctx); ok {
		tx, err = scope.Conn().Begin(ctx)
	} else {
		tx, err = db.Pool.Begin(ctx)
	}
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
