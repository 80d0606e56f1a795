package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"go.uber.org/zap"
)

var eventRowColumns = []string{
	"id", "provider", "operation", "user_id", "account_id", "request_id", "success",
	"error_code", "error_message", "item_count", "latency_ms", "details", "timestamp",
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return WrapDB(sqlDB, zap.NewNop()), mock
}

func TestEventRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())

	event := models.NewDispatchEvent("plaid", models.OperationGetAccounts).
		WithSubject("user-1", "").
		WithRequest("req-1").
		WithResult(3, 120*time.Millisecond)

	mock.ExpectExec("INSERT INTO dispatch_events").
		WithArgs(sqlmock.AnyArg(), "plaid", "get_accounts", "user-1", "", "req-1", true,
			nil, nil, 3, 120, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_InsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO dispatch_events").WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), models.NewDispatchEvent("teller", models.OperationConnect))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert dispatch event")
}

func TestEventRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	id := uuid.New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("FROM dispatch_events WHERE id = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(eventRowColumns).AddRow(
				id.String(), "pluggy", "get_transactions", "user-1", "acc-1", "req-9", false,
				"TRANSACTION_FETCH_FAILED", "upstream timeout", int64(0), int64(900),
				[]byte(`{"attempt":2}`), ts,
			))

		event, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, event.ID)
		assert.Equal(t, models.OperationGetTransactions, event.Operation)
		assert.False(t, event.Success)
		require.NotNil(t, event.ErrorCode)
		assert.Equal(t, "TRANSACTION_FETCH_FAILED", *event.ErrorCode)
		assert.Equal(t, 900, event.LatencyMs)
		assert.JSONEq(t, `{"attempt":2}`, string(event.Details))
		assert.Equal(t, ts, event.Timestamp)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("FROM dispatch_events WHERE id = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(eventRowColumns))

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_Query(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	ts := time.Now().UTC()

	failed := true
	filter := models.DispatchEventFilter{
		UserID:   "user-1",
		Provider: "plaid",
		Failed:   &failed,
		Limit:    10000,
		Offset:   5,
	}

	mock.ExpectQuery("WHERE user_id = \\$1 AND provider = \\$2 AND success = \\$3 ORDER BY timestamp DESC LIMIT \\$4 OFFSET \\$5").
		WithArgs("user-1", "plaid", false, maxEventLimit, 5).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow(uuid.NewString(), "plaid", "connect", "user-1", "", "", false,
				"CONNECTION_FAILED", "bad creds", int64(0), int64(10), nil, ts).
			AddRow(uuid.NewString(), "plaid", "disconnect", "user-1", "", "", false,
				"DISCONNECTION_FAILED", "gone", int64(0), int64(12), nil, ts))

	events, err := repo.Query(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.OperationConnect, events[0].Operation)
	assert.Nil(t, events[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_QueryDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM dispatch_events ORDER BY timestamp DESC LIMIT \\$1 OFFSET \\$2").
		WithArgs(defaultEventLimit, 0).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	events, err := repo.Query(context.Background(), models.DispatchEventFilter{Offset: -3})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_CountFailures(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db, zap.NewNop())
	since := time.Now().Add(-time.Hour)

	mock.ExpectQuery("SELECT provider, COUNT\\(\\*\\) FROM dispatch_events WHERE success = \\$1 AND timestamp >= \\$2 GROUP BY provider").
		WithArgs(false, since).
		WillReturnRows(sqlmock.NewRows([]string{"provider", "count"}).
			AddRow("plaid", int64(3)).
			AddRow("teller", int64(1)))

	counts, err := repo.CountFailures(context.Background(), models.DispatchEventFilter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"plaid": 3, "teller": 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ReplaceForUserInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, zap.NewNop())
	txMgr := NewTransactionManager(db, zap.NewNop())

	snapshots := []*models.AccountSnapshot{
		models.NewAccountSnapshot("user-1", "plaid", models.Account{
			ID: "acc-1", Name: "Checking", Type: models.AccountTypeChecking,
			Balance: decimal.RequireFromString("100.25"), Currency: "USD",
		}),
		models.NewAccountSnapshot("user-1", "plaid", models.Account{
			ID: "acc-2", Name: "Savings", Type: models.AccountTypeSavings,
			Balance: decimal.RequireFromString("2000"), Currency: "USD",
		}),
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM account_snapshots WHERE user_id = \\$1 AND provider = \\$2").
		WithArgs("user-1", "plaid").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("INSERT INTO account_snapshots").
		WithArgs(sqlmock.AnyArg(), "user-1", "plaid", "acc-1", "Checking", "CHECKING", sqlmock.AnyArg(), "USD", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO account_snapshots").
		WithArgs(sqlmock.AnyArg(), "user-1", "plaid", "acc-2", "Savings", "SAVINGS", sqlmock.AnyArg(), "USD", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := txMgr.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
		return repo.WithTx(tx).ReplaceForUser(context.Background(), "user-1", snapshots)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_ReplaceRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, zap.NewNop())
	txMgr := NewTransactionManager(db, zap.NewNop())

	snapshot := models.NewAccountSnapshot("user-1", "teller", models.Account{ID: "acc-1", Currency: "USD"})

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM account_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO account_snapshots").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := txMgr.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
		return repo.ReplaceForUser(ctx, "user-1", []*models.AccountSnapshot{snapshot})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert account snapshot")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_GetByUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, zap.NewNop())
	captured := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM account_snapshots").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "provider", "account_id", "name", "type", "balance", "currency", "captured_at",
		}).AddRow(uuid.NewString(), "user-1", "pluggy", "acc-9", "Conta", "CHECKING", "1523.40", "BRL", captured))

	snapshots, err := repo.GetByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, models.AccountTypeChecking, snapshots[0].Type)
	assert.True(t, decimal.RequireFromString("1523.4").Equal(snapshots[0].Balance))
	assert.Equal(t, "BRL", snapshots[0].Currency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotRepository_DeleteByUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSnapshotRepository(db, zap.NewNop())

	mock.ExpectExec("DELETE FROM account_snapshots WHERE user_id = \\$1$").
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteByUser(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestGetExecutor(t *testing.T) {
	db, mock := newMockDB(t)
	txMgr := NewTransactionManager(db, zap.NewNop())

	assert.Equal(t, db.DB, GetExecutor(context.Background(), db))

	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := txMgr.Begin(context.Background())
	require.NoError(t, err)
	_, isTx := GetTransactionFromContext(tx.Context())
	assert.True(t, isTx)
	assert.NotEqual(t, db.DB, GetExecutor(tx.Context(), db))
	require.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Rollback())
}
