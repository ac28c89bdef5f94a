package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// TestDB is a migrated database running in a throwaway container
type TestDB struct {
	*DB
	container testcontainers.Container
}

// SetupTestDB starts PostgreSQL and applies the embedded migrations through
// the same path the service uses at startup
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("fundshare_test"),
		tcpostgres.WithUsername("fundshare"),
		tcpostgres.WithPassword("fundshare"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(connStr)
	require.NoError(t, err, "connect to test database")

	tdb := &TestDB{DB: db, container: container}
	if err := db.Migrate(); err != nil {
		tdb.Cleanup(t)
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return tdb
}

// Cleanup closes the connection and terminates the container
func (tdb *TestDB) Cleanup(t *testing.T) {
	t.Helper()
	if tdb.DB != nil {
		tdb.DB.Close()
	}
	if tdb.container != nil {
		if err := tdb.container.Terminate(context.Background()); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}
}

// TruncateAll empties every table and resets identities between subtests
func (tdb *TestDB) TruncateAll(t *testing.T) {
	t.Helper()
	_, err := tdb.conn.Exec(`
		TRUNCATE TABLE profit_records, transactions, positions, agreements, users, nav_history, funds
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err, "truncate tables")
}

// GetRawConn exposes the pool for schema assertions
func (tdb *TestDB) GetRawConn() *sql.DB {
	return tdb.conn
}

func (tdb *TestDB) CreateTestFund(t *testing.T, code string) *models.Fund {
	t.Helper()
	fund := &models.Fund{Code: code, Name: "Fund " + code, Category: "mixed"}
	require.NoError(t, tdb.CreateFund(context.Background(), fund), "create fund %s", code)
	return fund
}

func (tdb *TestDB) CreateTestUser(t *testing.T, username, role string, principal float64) *models.User {
	t.Helper()
	user := &models.User{Username: username, Role: role, Principal: decimal.NewFromFloat(principal)}
	require.NoError(t, tdb.CreateUser(context.Background(), user), "create user %s", username)
	return user
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}
