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

// PositionMutation computes the new state of a position from the current one,
// which is nil when the user holds none of the fund. Returning nil deletes the row.
type PositionMutation func(current *models.Position) (*models.Position, error)

// ApplyTransaction mutates a user's position in a fund and appends t to the
// ledger in one database transaction. Concurrent calls for the same (user, fund)
// pair are serialised with a transaction-scoped advisory lock.
//
// When t carries an ExternalRef that is already recorded, nothing is applied:
// t is overwritten with the stored transaction and applied is false.
func (db *DB) ApplyTransaction(ctx context.Context, t *models.Transaction, mutate PositionMutation) (applied bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, t.UserID, t.FundID); err != nil {
			return fmt.Errorf("failed to lock position: %w", err)
		}

		if t.ExternalRef != "" {
			existing, err := getTransactionByExternalRef(ctx, tx, t.ExternalRef)
			if err == nil {
				*t = *existing
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}

		current, err := getPositionForUpdate(ctx, tx, t.UserID, t.FundID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		next, err := mutate(current)
		if err != nil {
			return err
		}

		if err := writePosition(ctx, tx, t.UserID, t.FundID, current, next); err != nil {
			return err
		}

		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func getPositionForUpdate(ctx context.Context, tx *sql.Tx, userID, fundID int) (*models.Position, error) {
	query := `
		SELECT id, user_id, fund_id, shares, cost_price, created_at, updated_at
		FROM positions
		WHERE user_id = $1 AND fund_id = $2
		FOR UPDATE
	`
	var p models.Position
	err := tx.QueryRowContext(ctx, query, userID, fundID).Scan(
		&p.ID, &p.UserID, &p.FundID, &p.Shares, &p.CostPrice, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &p, nil
}

func writePosition(ctx context.Context, tx *sql.Tx, userID, fundID int, current, next *models.Position) error {
	now := time.Now()

	switch {
	case next == nil && current == nil:
		return nil
	case next == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, current.ID); err != nil {
			return fmt.Errorf("failed to delete position: %w", err)
		}
	case current == nil:
		err := tx.QueryRowContext(ctx, `
			INSERT INTO positions (user_id, fund_id, shares, cost_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING id
		`, userID, fundID, next.Shares, next.CostPrice, now).Scan(&next.ID)
		if err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}
		next.CreatedAt = now
		next.UpdatedAt = now
	default:
		_, err := tx.ExecContext(ctx, `
			UPDATE positions SET shares = $2, cost_price = $3, updated_at = $4
			WHERE id = $1
		`, current.ID, next.Shares, next.CostPrice, now)
		if err != nil {
			return fmt.Errorf("failed to update position: %w", err)
		}
		next.UpdatedAt = now
	}
	return nil
}

// GetPosition retrieves a user's position in a fund
func (db *DB) GetPosition(ctx context.Context, userID, fundID int) (*models.Position, error) {
	query := `
		SELECT id, user_id, fund_id, shares, cost_price, created_at, updated_at
		FROM positions
		WHERE user_id = $1 AND fund_id = $2
	`
	var p models.Position
	err := db.conn.QueryRowContext(ctx, query, userID, fundID).Scan(
		&p.ID, &p.UserID, &p.FundID, &p.Shares, &p.CostPrice, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position for user %d fund %d: %w", userID, fundID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &p, nil
}

// GetHoldingsByUser returns a user's positions joined with each fund's latest NAV
func (db *DB) GetHoldingsByUser(ctx context.Context, userID int) ([]models.HoldingValue, error) {
	query := `
		SELECT p.id, p.user_id, p.fund_id, p.shares, p.cost_price, p.created_at, p.updated_at,
		       f.code, f.name, f.latest_nav, f.nav_as_of
		FROM positions p
		JOIN funds f ON f.id = p.fund_id
		WHERE p.user_id = $1
		ORDER BY f.code
	`
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.HoldingValue
	for rows.Next() {
		var h models.HoldingValue
		var latestNav decimal.NullDecimal
		var navAsOf sql.NullTime

		err := rows.Scan(
			&h.ID, &h.UserID, &h.FundID, &h.Shares, &h.CostPrice, &h.CreatedAt, &h.UpdatedAt,
			&h.FundCode, &h.FundName, &latestNav, &navAsOf,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}

		if latestNav.Valid {
			nav := latestNav.Decimal
			h.LatestNav = &nav
		}
		if navAsOf.Valid {
			asOf := navAsOf.Time
			h.NavAsOf = &asOf
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}
