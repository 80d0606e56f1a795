package services

import (
	"context"
	"fmt"

	"github.com/upb/pulse/repositories"
	"go.uber.org/multierr"
)

// TxFunc runs with the context carrying tx
type TxFunc func(ctx context.Context, tx repositories.Transaction) error

// WithTransaction runs fn inside a transaction, committing only when fn succeeds
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn TxFunc) error {
	_, err := WithTransactionResult(ctx, txMgr, func(ctx context.Context, tx repositories.Transaction) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}

// WithTransactionResult is WithTransaction for functions that produce a value.
// A panic inside fn rolls back and re-panics; a failed rollback is appended to fn's error.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	var zero T

	tx, err := txMgr.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			if !committed {
				_ = tx.Rollback()
			}
			panic(p)
		}
	}()

	result, err := fn(tx.Context(), tx)
	if err != nil {
		return result, multierr.Append(err, tx.Rollback())
	}

	committed = true
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}
