package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// CreateUser inserts a new account. A taken username yields ErrDuplicateUsername.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (username, role, principal, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`
	now := time.Now()

	err := db.conn.QueryRowContext(ctx, query, u.Username, u.Role, u.Principal, now).Scan(&u.ID)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok && constraint == "users_username_key" {
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, u.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUserByID retrieves an account by ID
func (db *DB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `
		SELECT id, username, role, principal, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	var u models.User
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Role, &u.Principal, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ListUsers returns every account ordered by ID
func (db *DB) ListUsers(ctx context.Context) ([]*models.User, error) {
	query := `
		SELECT id, username, role, principal, created_at, updated_at
		FROM users
		ORDER BY id
	`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &u.Principal, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// SumSubAccountPrincipal returns the total principal committed by all sub-accounts
func (db *DB) SumSubAccountPrincipal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(principal), 0) FROM users WHERE role = $1`, models.RoleSub,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum sub-account principal: %w", err)
	}
	return total, nil
}

// UpdatePrincipal sets the committed capital of an account
func (db *DB) UpdatePrincipal(ctx context.Context, userID int, principal decimal.Decimal) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET principal = $2, updated_at = NOW() WHERE id = $1`, userID, principal,
	)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// DeleteUser removes an account together with its positions, transactions,
// agreement and profit records
func (db *DB) DeleteUser(ctx context.Context, userID int) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}
