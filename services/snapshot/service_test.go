package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"go.uber.org/zap/zaptest"
)

type MockSnapshotRepository struct {
	mock.Mock
}

func (m *MockSnapshotRepository) ReplaceForUser(ctx context.Context, userID string, snapshots []*models.AccountSnapshot) error {
	args := m.Called(ctx, userID, snapshots)
	return args.Error(0)
}

func (m *MockSnapshotRepository) GetByUser(ctx context.Context, userID string) ([]*models.AccountSnapshot, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.([]*models.AccountSnapshot), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSnapshotRepository) DeleteByUser(ctx context.Context, userID, provider string) (int64, error) {
	args := m.Called(ctx, userID, provider)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSnapshotRepository) WithTx(tx repositories.Transaction) repositories.SnapshotRepository {
	m.Called(tx)
	return m
}

type MockTransaction struct {
	mock.Mock
	ctx context.Context
}

func (m *MockTransaction) Commit() error            { return m.Called().Error(0) }
func (m *MockTransaction) Rollback() error          { return m.Called().Error(0) }
func (m *MockTransaction) Context() context.Context { return m.ctx }

type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

func accountsFixture() []models.Account {
	return []models.Account{
		models.NewAccount("acc-1", "Checking", models.AccountTypeChecking, decimal.NewFromInt(100), "usd").
			WithMetadata("provider", "plaid"),
		models.NewAccount("acc-2", "Conta", models.AccountTypeSavings, decimal.RequireFromString("55.10"), "BRL").
			WithMetadata("provider", "pluggy"),
		models.NewAccount("acc-3", "Mystery", models.AccountTypeOther, decimal.Zero, "EUR"),
	}
}

func TestService_Capture(t *testing.T) {
	repo := new(MockSnapshotRepository)
	txMgr := new(MockTransactionManager)
	tx := &MockTransaction{ctx: context.Background()}

	txMgr.On("Begin", mock.Anything).Return(tx, nil)
	repo.On("WithTx", tx).Return()
	repo.On("ReplaceForUser", mock.Anything, "user-1", mock.MatchedBy(func(s []*models.AccountSnapshot) bool {
		return len(s) == 3 &&
			s[0].Provider == "plaid" && s[0].Currency == "USD" &&
			s[1].Provider == "pluggy" &&
			s[2].Provider == unknownProvider
	})).Return(nil)
	tx.On("Commit").Return(nil)

	service := NewService(repo, txMgr, zaptest.NewLogger(t))
	n, err := service.Capture(context.Background(), "user-1", accountsFixture())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	repo.AssertExpectations(t)
	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "Rollback")
}

func TestService_CaptureRollsBack(t *testing.T) {
	repo := new(MockSnapshotRepository)
	txMgr := new(MockTransactionManager)
	tx := &MockTransaction{ctx: context.Background()}

	txMgr.On("Begin", mock.Anything).Return(tx, nil)
	repo.On("WithTx", tx).Return()
	repo.On("ReplaceForUser", mock.Anything, "user-1", mock.Anything).Return(errors.New("constraint violation"))
	tx.On("Rollback").Return(nil)

	service := NewService(repo, txMgr, zaptest.NewLogger(t))
	n, err := service.Capture(context.Background(), "user-1", accountsFixture())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "constraint violation")

	tx.AssertExpectations(t)
	tx.AssertNotCalled(t, "Commit")
}

func TestService_CaptureNothing(t *testing.T) {
	repo := new(MockSnapshotRepository)
	txMgr := new(MockTransactionManager)
	service := NewService(repo, txMgr, zaptest.NewLogger(t))

	n, err := service.Capture(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = service.Capture(context.Background(), "", accountsFixture())
	assert.Error(t, err)

	txMgr.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestService_ListAndForget(t *testing.T) {
	repo := new(MockSnapshotRepository)
	service := NewService(repo, new(MockTransactionManager), zaptest.NewLogger(t))

	stored := []*models.AccountSnapshot{{UserID: "user-1", Provider: "teller", AccountID: "acc-1"}}
	repo.On("GetByUser", mock.Anything, "user-1").Return(stored, nil)
	repo.On("DeleteByUser", mock.Anything, "user-1", "teller").Return(int64(1), nil)

	got, err := service.List(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	n, err := service.Forget(context.Background(), "user-1", "teller")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
