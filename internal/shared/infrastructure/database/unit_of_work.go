package database

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/blade/internal/shared/application"
)

// ErrNoTransaction is returned by Commit and Rollback when the context carries no transaction.
var ErrNoTransaction = errors.New("no transaction in context")

var _ application.UnitOfWork = (*GenericUnitOfWork)(nil)

// GenericUnitOfWork implements application.UnitOfWork for both SQL drivers.
type GenericUnitOfWork struct {
	conn Connection
}

// NewUnitOfWork creates a new GenericUnitOfWork.
func NewUnitOfWork(conn Connection) *GenericUnitOfWork {
	return &GenericUnitOfWork{conn: conn}
}

// Begin starts a transaction and stores it in the context.
// If a transaction already exists in the context, it reuses it (nested transaction).
func (u *GenericUnitOfWork) Begin(ctx context.Context) (context.Context, error) {
	if state, ok := txStateFrom(ctx); ok {
		return withTx(ctx, state.tx, false), nil
	}

	tx, err := u.conn.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	return withTx(ctx, tx, true), nil
}

// Commit commits the transaction if this unit owns it.
func (u *GenericUnitOfWork) Commit(ctx context.Context) error {
	state, ok := txStateFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !state.owned {
		return nil
	}
	return state.tx.Commit(ctx)
}

// Rollback rolls back the transaction if this unit owns it.
func (u *GenericUnitOfWork) Rollback(ctx context.Context) error {
	state, ok := txStateFrom(ctx)
	if !ok {
		return ErrNoTransaction
	}
	if !state.owned {
		return nil
	}
	return state.tx.Rollback(ctx)
}
