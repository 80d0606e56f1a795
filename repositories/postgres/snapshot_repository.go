package postgres

import (
	"context"
	"fmt"

	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"go.uber.org/zap"
)

// SnapshotRepository implements the repositories.SnapshotRepository interface
type SnapshotRepository struct {
	db     *DB
	tx     repositories.Transaction
	logger *zap.Logger
}

// NewSnapshotRepository creates a new account snapshot repository
func NewSnapshotRepository(db *DB, logger *zap.Logger) repositories.SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// ReplaceForUser deletes the user's snapshots for every provider present in
// snapshots and inserts the new rows. Call it inside a transaction.
func (r *SnapshotRepository) ReplaceForUser(ctx context.Context, userID string, snapshots []*models.AccountSnapshot) error {
	ctx = r.context(ctx)

	seen := make(map[string]bool)
	for _, s := range snapshots {
		if seen[s.Provider] {
			continue
		}
		seen[s.Provider] = true
		if _, err := r.DeleteByUser(ctx, userID, s.Provider); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO account_snapshots (
			id, user_id, provider, account_id, name, type, balance, currency, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	for _, s := range snapshots {
		_, err := executor.ExecContext(ctx, query,
			s.ID,
			userID,
			s.Provider,
			s.AccountID,
			s.Name,
			string(s.Type),
			s.Balance,
			s.Currency,
			s.CapturedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert account snapshot: %w", err)
		}
	}

	r.logger.Debug("account snapshots replaced",
		zap.String("user_id", userID),
		zap.Int("count", len(snapshots)),
	)
	return nil
}

// GetByUser returns the user's snapshots ordered by provider and account
func (r *SnapshotRepository) GetByUser(ctx context.Context, userID string) ([]*models.AccountSnapshot, error) {
	ctx = r.context(ctx)
	query := `
		SELECT id, user_id, provider, account_id, name, type, balance, currency, captured_at
		FROM account_snapshots
		WHERE user_id = $1
		ORDER BY provider, account_id
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.AccountSnapshot, 0)
	for rows.Next() {
		s := &models.AccountSnapshot{}
		var accountType string
		err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.Provider,
			&s.AccountID,
			&s.Name,
			&accountType,
			&s.Balance,
			&s.Currency,
			&s.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account snapshot: %w", err)
		}
		s.Type = models.AccountType(accountType)
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating account snapshots: %w", err)
	}
	return snapshots, nil
}

// DeleteByUser removes the user's snapshots; an empty provider removes all of them
func (r *SnapshotRepository) DeleteByUser(ctx context.Context, userID, provider string) (int64, error) {
	ctx = r.context(ctx)
	query := `DELETE FROM account_snapshots WHERE user_id = $1`
	args := []interface{}{userID}
	if provider != "" {
		query += ` AND provider = $2`
		args = append(args, provider)
	}

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account snapshots: %w", err)
	}
	return result.RowsAffected()
}

// WithTx returns a new repository instance bound to the transaction
func (r *SnapshotRepository) WithTx(tx repositories.Transaction) repositories.SnapshotRepository {
	return &SnapshotRepository{
		db:     r.db,
		tx:     tx,
		logger: r.logger,
	}
}

// context prefers the bound transaction over whatever ctx carries
func (r *SnapshotRepository) context(ctx context.Context) context.Context {
	if r.tx == nil {
		return ctx
	}
	if _, ok := GetTransactionFromContext(ctx); ok {
		return ctx
	}
	if pgTx, ok := r.tx.(*Transaction); ok {
		return context.WithValue(ctx, transactionContextKey{}, pgTx)
	}
	return ctx
}
