package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/fund-share-service/internal/models"
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const transactionColumns = `id, user_id, fund_id, type, amount, shares, price, fee, external_ref, executed_at, created_at`

func insertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			user_id, fund_id, type, amount, shares, price, fee, external_ref, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	now := time.Now()
	if t.ExecutedAt.IsZero() {
		t.ExecutedAt = now
	}

	err := tx.QueryRowContext(ctx, query,
		t.UserID, t.FundID, t.Type, t.Amount, t.Shares, t.Price, t.Fee,
		nullString(t.ExternalRef), t.ExecutedAt, now,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	t.CreatedAt = now
	return nil
}

func getTransactionByExternalRef(ctx context.Context, q queryRower, ref string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_ref = $1`
	t, err := scanTransaction(q.QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// GetTransactionByExternalRef retrieves a ledger entry by its upstream reference
func (db *DB) GetTransactionByExternalRef(ctx context.Context, ref string) (*models.Transaction, error) {
	t, err := getTransactionByExternalRef(ctx, db.conn, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", ref, ErrNotFound)
	}
	return t, err
}

// GetTransactionsByUser returns a user's most recent ledger entries, newest first
func (db *DB) GetTransactionsByUser(ctx context.Context, userID, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY executed_at DESC, id DESC
		LIMIT $2
	`
	rows, err := db.conn.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txns, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var ref sql.NullString

	err := row.Scan(
		&t.ID, &t.UserID, &t.FundID, &t.Type, &t.Amount, &t.Shares, &t.Price, &t.Fee,
		&ref, &t.ExecutedAt, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ref.Valid {
		t.ExternalRef = ref.String
	}
	return &t, nil
}
