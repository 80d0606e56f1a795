package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/pulse/models"
)

// ErrNotFound is returned when a lookup matches no rows
var ErrNotFound = errors.New("record not found")

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Commits if the function succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// DispatchEventRepository stores the record of adapter invocations
type DispatchEventRepository interface {
	// Insert inserts a new event
	Insert(ctx context.Context, event *models.DispatchEvent) error

	// GetByID retrieves an event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchEvent, error)

	// Query returns events matching the filter, newest first
	Query(ctx context.Context, filter models.DispatchEventFilter) ([]*models.DispatchEvent, error)

	// CountFailures counts failed events per provider since the filter's Since
	CountFailures(ctx context.Context, filter models.DispatchEventFilter) (map[string]int, error)
}

// SnapshotRepository stores the last fetched account balances per user
type SnapshotRepository interface {
	// ReplaceForUser deletes the user's snapshots and inserts the given ones
	ReplaceForUser(ctx context.Context, userID string, snapshots []*models.AccountSnapshot) error

	// GetByUser returns the user's snapshots ordered by provider and account
	GetByUser(ctx context.Context, userID string) ([]*models.AccountSnapshot, error)

	// DeleteByUser removes the user's snapshots, optionally for one provider only
	DeleteByUser(ctx context.Context, userID, provider string) (int64, error)

	// WithTx returns a new repository instance bound to the transaction
	WithTx(tx Transaction) SnapshotRepository
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	DispatchEvents DispatchEventRepository
	Snapshots      SnapshotRepository
}
