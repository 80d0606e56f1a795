package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/pulse/repositories"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type transactionContextKey struct{}

// TransactionManager opens transactions on the pool and hands them to
// repositories through the context
type TransactionManager struct {
	db     *DB
	opts   *sql.TxOptions
	logger *zap.Logger
}

// NewTransactionManager returns a manager using the driver's default isolation
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{db: db, logger: logger}
}

// Begin opens a transaction. Repositories called with tx.Context() join it.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, tm.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Transaction{
		id:     uuid.NewString(),
		tx:     sqlTx,
		logger: tm.logger,
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	tm.logger.Debug("transaction started", zap.String("tx_id", tx.id))
	return tx, nil
}

// InTransaction commits when fn succeeds. A failing or panicking fn rolls back;
// a rollback failure is combined with fn's error.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) (err error) {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx.Context(), tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	return tx.Commit()
}

// Transaction wraps *sql.Tx together with the context that carries it
type Transaction struct {
	id     string
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction %s: %w", t.id, err)
	}
	t.logger.Debug("transaction committed", zap.String("tx_id", t.id))
	return nil
}

// Rollback is a no-op on a finished transaction
func (t *Transaction) Rollback() error {
	err := t.tx.Rollback()
	switch {
	case err == nil:
		t.logger.Debug("transaction rolled back", zap.String("tx_id", t.id))
		return nil
	case errors.Is(err, sql.ErrTxDone):
		return nil
	default:
		t.logger.Error("failed to rollback transaction", zap.String("tx_id", t.id), zap.Error(err))
		return fmt.Errorf("failed to rollback transaction %s: %w", t.id, err)
	}
}

// Context returns the context carrying this transaction
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// GetTransactionFromContext returns the transaction ctx carries, if any
func GetTransactionFromContext(ctx context.Context) (repositories.Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(*Transaction)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the transaction carried by ctx, or the pool
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok && tx != nil {
		return tx.tx
	}
	return db.DB
}
