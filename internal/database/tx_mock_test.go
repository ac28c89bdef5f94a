package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/fund-share-service/internal/models"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{conn: sqlDB}, mock
}

func TestUpsertNav_SkipsExistingHistoryButUpdatesFund(t *testing.T) {
	db, mock := newMockDB(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	nav := decimal.RequireFromString("1.2345")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO nav_history").
		WithArgs(7, date, nav).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE funds SET latest_nav").
		WithArgs(7, nav, date).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := db.UpsertNav(context.Background(), 7, date, nav)
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNav_RollsBackWhenFundUpdateFails(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO nav_history").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE funds SET latest_nav").WillReturnError(errors.New("update failed"))
	mock.ExpectRollback()

	_, err := db.UpsertNav(context.Background(), 7, time.Now(), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update fund nav")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertNav_ReturnsErrorIfBeginFails(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin().WillReturnError(errors.New("begin failed"))

	_, err := db.UpsertNav(context.Background(), 7, time.Now(), decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_CreatesPositionAndLedgerRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(1, 2).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM positions").WithArgs(1, 2).WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "fund_id", "shares", "cost_price", "created_at", "updated_at"}),
	)
	mock.ExpectQuery("INSERT INTO positions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("INSERT INTO transactions").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))
	mock.ExpectCommit()

	txn := &models.Transaction{UserID: 1, FundID: 2, Type: models.TransactionBuy, Amount: decimal.NewFromInt(100)}
	var seen *models.Position
	applied, err := db.ApplyTransaction(context.Background(), txn, func(current *models.Position) (*models.Position, error) {
		seen = current
		return &models.Position{Shares: decimal.NewFromInt(100), CostPrice: decimal.NewFromInt(1)}, nil
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Nil(t, seen)
	assert.Equal(t, 21, txn.ID)
	assert.False(t, txn.ExecutedAt.IsZero())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_MutationErrorRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	insufficient := errors.New("insufficient")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM positions").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "fund_id", "shares", "cost_price", "created_at", "updated_at"}).
			AddRow(11, 1, 2, "5", "1.5", now, now),
	)
	mock.ExpectRollback()

	txn := &models.Transaction{UserID: 1, FundID: 2, Type: models.TransactionSell}
	_, err := db.ApplyTransaction(context.Background(), txn, func(current *models.Position) (*models.Position, error) {
		require.NotNil(t, current)
		assert.True(t, decimal.NewFromInt(5).Equal(current.Shares))
		return nil, insufficient
	})
	assert.ErrorIs(t, err, insufficient)
	assert.Zero(t, txn.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyTransaction_DuplicateExternalRefReturnsStoredRow(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE external_ref").WithArgs("order-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "user_id", "fund_id", "type", "amount", "shares", "price", "fee", "external_ref", "executed_at", "created_at"}).
			AddRow(99, 1, 2, "buy", "100", "100", "1", "0", "order-1", now, now),
	)
	mock.ExpectCommit()

	txn := &models.Transaction{UserID: 1, FundID: 2, Type: models.TransactionBuy, ExternalRef: "order-1"}
	applied, err := db.ApplyTransaction(context.Background(), txn, func(*models.Position) (*models.Position, error) {
		t.Fatal("mutation must not run for a recorded reference")
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 99, txn.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertDailyProfit_RecomputesCumulative(t *testing.T) {
	db, mock := newMockDB(t)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO profit_records").
		WithArgs(3, date, decimal.NewFromInt(500)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("UPDATE profit_records SET cumulative_profit").
		WithArgs(3, date).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "date", "daily_profit", "cumulative_profit", "share_amount", "created_at", "updated_at"}).
			AddRow(1, 3, date, "500", "1500", "0", now, now))
	mock.ExpectCommit()

	record, err := db.UpsertDailyProfit(context.Background(), 3, date, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1500).Equal(record.CumulativeProfit))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFund_MapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("INSERT INTO funds").WillReturnError(&pq.Error{Code: "23505", Constraint: "funds_code_key"})

	err := db.CreateFund(context.Background(), &models.Fund{Code: "000001", Name: "x"})
	assert.ErrorIs(t, err, ErrDuplicateFundCode)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_MapsUniqueViolation(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

	err := db.CreateUser(context.Background(), &models.User{Username: "alice", Role: models.RoleSub})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	require.NoError(t, mock.ExpectationsWereMet())
}
