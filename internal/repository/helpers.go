package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// HandleNotFound converts sql.ErrNoRows into a nil result without error.
//
//	var s domain.Session
//	err := r.db.GetContext(ctx, &s, query, args...)
//	return HandleNotFound(&s, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withTx runs fn in its own transaction. A repository already bound to a
// transaction through WithTx runs fn on it and leaves commit to the owner.
func withTx(ctx context.Context, db queryer, fn func(q queryer) error) error {
	conn, ok := db.(*sqlx.DB)
	if !ok {
		return fn(db)
	}
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
