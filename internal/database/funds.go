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

const fundColumns = `id, code, name, category, latest_nav, nav_as_of, created_at, updated_at`

// CreateFund inserts a new fund. A code that already exists yields ErrDuplicateFundCode.
func (db *DB) CreateFund(ctx context.Context, f *models.Fund) error {
	query := `
		INSERT INTO funds (code, name, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`
	now := time.Now()

	err := db.conn.QueryRowContext(ctx, query,
		f.Code, f.Name, nullString(f.Category), now,
	).Scan(&f.ID)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok && constraint == "funds_code_key" {
			return fmt.Errorf("%w: %s", ErrDuplicateFundCode, f.Code)
		}
		return fmt.Errorf("failed to create fund: %w", err)
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	return nil
}

// EnsureFund returns the fund with the given code, creating it with the given
// name when it does not exist yet.
func (db *DB) EnsureFund(ctx context.Context, code, name string) (*models.Fund, error) {
	query := `
		INSERT INTO funds (code, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING ` + fundColumns

	f, err := scanFund(db.conn.QueryRowContext(ctx, query, code, name))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure fund %s: %w", code, err)
	}
	return f, nil
}

// GetFundByCode retrieves a fund by its exchange code
func (db *DB) GetFundByCode(ctx context.Context, code string) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE code = $1`

	f, err := scanFund(db.conn.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("fund %s: %w", code, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return f, nil
}

// GetFundByID retrieves a fund by ID
func (db *DB) GetFundByID(ctx context.Context, id int) (*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds WHERE id = $1`

	f, err := scanFund(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("fund %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get fund: %w", err)
	}
	return f, nil
}

// ListFunds returns every tracked fund ordered by code
func (db *DB) ListFunds(ctx context.Context) ([]*models.Fund, error) {
	query := `SELECT ` + fundColumns + ` FROM funds ORDER BY code`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query funds: %w", err)
	}
	defer rows.Close()

	var funds []*models.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funds: %w", err)
	}
	return funds, nil
}

// DeleteFund removes a fund and its NAV history. Funds still held in a position
// are rejected with ErrFundInUse.
func (db *DB) DeleteFund(ctx context.Context, code string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM funds WHERE code = $1`, code)
	if err != nil {
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return fmt.Errorf("%w: %s", ErrFundInUse, code)
		}
		return fmt.Errorf("failed to delete fund: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("fund %s: %w", code, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFund(row rowScanner) (*models.Fund, error) {
	var f models.Fund
	var category sql.NullString
	var latestNav decimal.NullDecimal
	var navAsOf sql.NullTime

	err := row.Scan(&f.ID, &f.Code, &f.Name, &category, &latestNav, &navAsOf, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if category.Valid {
		f.Category = category.String
	}
	if latestNav.Valid {
		nav := latestNav.Decimal
		f.LatestNav = &nav
	}
	if navAsOf.Valid {
		asOf := navAsOf.Time
		f.NavAsOf = &asOf
	}
	return &f, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
