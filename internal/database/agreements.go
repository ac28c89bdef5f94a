package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trogers1052/fund-share-service/internal/models"
)

// UpsertAgreement creates or replaces a sub-account's profit-sharing terms
func (db *DB) UpsertAgreement(ctx context.Context, a *models.Agreement) error {
	query := `
		INSERT INTO agreements (
			user_id, profit_share_ratio, is_capital_protected, capital_protection_ratio,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			profit_share_ratio = EXCLUDED.profit_share_ratio,
			is_capital_protected = EXCLUDED.is_capital_protected,
			capital_protection_ratio = EXCLUDED.capital_protection_ratio,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()

	err := db.conn.QueryRowContext(ctx, query,
		a.UserID, a.ProfitShareRatio, a.IsCapitalProtected, a.CapitalProtectionRatio, now,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return fmt.Errorf("user %d: %w", a.UserID, ErrNotFound)
		}
		return fmt.Errorf("failed to upsert agreement: %w", err)
	}
	a.UpdatedAt = now
	return nil
}

// GetAgreementByUserID retrieves a sub-account's agreement. Accounts without one
// yield ErrNotFound.
func (db *DB) GetAgreementByUserID(ctx context.Context, userID int) (*models.Agreement, error) {
	query := `
		SELECT id, user_id, profit_share_ratio, is_capital_protected, capital_protection_ratio,
		       created_at, updated_at
		FROM agreements
		WHERE user_id = $1
	`
	var a models.Agreement
	err := db.conn.QueryRowContext(ctx, query, userID).Scan(
		&a.ID, &a.UserID, &a.ProfitShareRatio, &a.IsCapitalProtected, &a.CapitalProtectionRatio,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agreement for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}
	return &a, nil
}
