package snapshot

import (
	"context"
	"fmt"

	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"github.com/upb/pulse/services"
	"go.uber.org/zap"
)

// unknownProvider groups accounts that carry no provider metadata
const unknownProvider = "unknown"

// Service keeps the last balances seen for each user
type Service struct {
	repo   repositories.SnapshotRepository
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewService creates a snapshot service
func NewService(repo repositories.SnapshotRepository, txMgr repositories.TransactionManager, logger *zap.Logger) *Service {
	return &Service{repo: repo, txMgr: txMgr, logger: logger}
}

// Capture replaces the user's snapshots for every provider present in accounts.
// Providers absent from accounts keep their previous rows.
func (s *Service) Capture(ctx context.Context, userID string, accounts []models.Account) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	snapshots := make([]*models.AccountSnapshot, 0, len(accounts))
	for _, account := range accounts {
		snapshots = append(snapshots, models.NewAccountSnapshot(userID, providerOf(account), account))
	}

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return s.repo.WithTx(tx).ReplaceForUser(ctx, userID, snapshots)
	})
	if err != nil {
		s.logger.Error("failed to capture account snapshots",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, err
	}

	s.logger.Debug("account snapshots captured",
		zap.String("user_id", userID),
		zap.Int("count", len(snapshots)))
	return len(snapshots), nil
}

// List returns the user's stored snapshots
func (s *Service) List(ctx context.Context, userID string) ([]*models.AccountSnapshot, error) {
	return s.repo.GetByUser(ctx, userID)
}

// Forget removes the user's snapshots; an empty provider removes all of them
func (s *Service) Forget(ctx context.Context, userID, provider string) (int64, error) {
	return s.repo.DeleteByUser(ctx, userID, provider)
}

func providerOf(account models.Account) string {
	if p, ok := account.Metadata["provider"].(string); ok && p != "" {
		return p
	}
	return unknownProvider
}
