package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// UpsertNav records a fund's NAV for a date. The history row is insert-only: an
// existing entry for (fund, date) is left untouched. The fund's latest_nav and
// nav_as_of are overwritten on every call. inserted reports whether a new
// history row was written.
func (db *DB) UpsertNav(ctx context.Context, fundID int, date time.Time, nav decimal.Decimal) (inserted bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO nav_history (fund_id, date, nav, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (fund_id, date) DO NOTHING
		`, fundID, date, nav)
		if err != nil {
			return fmt.Errorf("failed to insert nav history: %w", err)
		}
		rowsAffected, _ := result.RowsAffected()
		inserted = rowsAffected > 0

		result, err = tx.ExecContext(ctx, `
			UPDATE funds SET latest_nav = $2, nav_as_of = $3, updated_at = NOW()
			WHERE id = $1
		`, fundID, nav, date)
		if err != nil {
			return fmt.Errorf("failed to update fund nav: %w", err)
		}
		if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
			return fmt.Errorf("fund %d: %w", fundID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// UpsertNavBatch inserts backfilled history points, skipping dates already stored.
// The fund's latest NAV is only advanced when the newest point is more recent
// than the fund's current nav_as_of.
func (db *DB) UpsertNavBatch(ctx context.Context, fundID int, points []models.NavPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	inserted := 0
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO nav_history (fund_id, date, nav, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (fund_id, date) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		newest := points[0]
		for _, p := range points {
			result, err := stmt.ExecContext(ctx, fundID, p.Date, p.Nav)
			if err != nil {
				return fmt.Errorf("failed to insert nav history for %s: %w", p.Date.Format("2006-01-02"), err)
			}
			if rowsAffected, _ := result.RowsAffected(); rowsAffected > 0 {
				inserted++
			}
			if p.Date.After(newest.Date) {
				newest = p
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE funds SET latest_nav = $2, nav_as_of = $3, updated_at = NOW()
			WHERE id = $1 AND (nav_as_of IS NULL OR nav_as_of < $3)
		`, fundID, newest.Nav, newest.Date)
		if err != nil {
			return fmt.Errorf("failed to update fund nav: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetLatestNavs returns at most n history entries dated on or before today, in
// ascending date order.
func (db *DB) GetLatestNavs(ctx context.Context, fundID, n int, today time.Time) ([]models.NavHistoryEntry, error) {
	query := `
		SELECT id, fund_id, date, nav, created_at FROM (
			SELECT id, fund_id, date, nav, created_at
			FROM nav_history
			WHERE fund_id = $1 AND date <= $2
			ORDER BY date DESC
			LIMIT $3
		) recent
		ORDER BY date ASC
	`
	return scanNavHistory(db.conn.QueryContext(ctx, query, fundID, today, n))
}

// GetNavRange returns history entries between from and to inclusive, ascending
func (db *DB) GetNavRange(ctx context.Context, fundID int, from, to time.Time) ([]models.NavHistoryEntry, error) {
	query := `
		SELECT id, fund_id, date, nav, created_at
		FROM nav_history
		WHERE fund_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`
	return scanNavHistory(db.conn.QueryContext(ctx, query, fundID, from, to))
}

func scanNavHistory(rows *sql.Rows, err error) ([]models.NavHistoryEntry, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query nav history: %w", err)
	}
	defer rows.Close()

	var entries []models.NavHistoryEntry
	for rows.Next() {
		var e models.NavHistoryEntry
		if err := rows.Scan(&e.ID, &e.FundID, &e.Date, &e.Nav, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan nav history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav history: %w", err)
	}
	return entries, nil
}
