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

const profitColumns = `id, user_id, date, daily_profit, cumulative_profit, share_amount, created_at, updated_at`

// UpsertDailyProfit writes a user's profit for a date and recomputes the record's
// cumulative profit as the sum of all of the user's daily profits. Re-running for
// the same date overwrites daily_profit, so the result is idempotent.
func (db *DB) UpsertDailyProfit(ctx context.Context, userID int, date time.Time, dailyProfit decimal.Decimal) (*models.ProfitRecord, error) {
	var record *models.ProfitRecord
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO profit_records (user_id, date, daily_profit, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())
			ON CONFLICT (user_id, date) DO UPDATE SET
				daily_profit = EXCLUDED.daily_profit,
				updated_at = EXCLUDED.updated_at
		`, userID, date, dailyProfit)
		if err != nil {
			return fmt.Errorf("failed to upsert daily profit: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE profit_records SET cumulative_profit = (
				SELECT COALESCE(SUM(daily_profit), 0) FROM profit_records WHERE user_id = $1
			)
			WHERE user_id = $1 AND date = $2
			RETURNING `+profitColumns, userID, date)
		record, err = scanProfitRecord(row)
		if err != nil {
			return fmt.Errorf("failed to update cumulative profit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// SaveShareAmount sets the share amount on a user's record for a date, creating
// a zero-profit record when none has been settled yet.
func (db *DB) SaveShareAmount(ctx context.Context, userID int, date time.Time, share decimal.Decimal) (*models.ProfitRecord, error) {
	query := `
		INSERT INTO profit_records (user_id, date, daily_profit, cumulative_profit, share_amount, created_at, updated_at)
		VALUES (
			$1, $2, 0,
			(SELECT COALESCE(SUM(daily_profit), 0) FROM profit_records WHERE user_id = $1),
			$3, NOW(), NOW()
		)
		ON CONFLICT (user_id, date) DO UPDATE SET
			share_amount = EXCLUDED.share_amount,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + profitColumns

	record, err := scanProfitRecord(db.conn.QueryRowContext(ctx, query, userID, date, share))
	if err != nil {
		return nil, fmt.Errorf("failed to save share amount: %w", err)
	}
	return record, nil
}

// GetProfitRecord retrieves a user's record for a date
func (db *DB) GetProfitRecord(ctx context.Context, userID int, date time.Time) (*models.ProfitRecord, error) {
	query := `SELECT ` + profitColumns + ` FROM profit_records WHERE user_id = $1 AND date = $2`

	record, err := scanProfitRecord(db.conn.QueryRowContext(ctx, query, userID, date))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("profit record for user %d on %s: %w", userID, date.Format("2006-01-02"), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profit record: %w", err)
	}
	return record, nil
}

// GetProfitRecords returns a user's records between from and to inclusive, ascending
func (db *DB) GetProfitRecords(ctx context.Context, userID int, from, to time.Time) ([]*models.ProfitRecord, error) {
	query := `
		SELECT ` + profitColumns + `
		FROM profit_records
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query profit records: %w", err)
	}
	defer rows.Close()

	var records []*models.ProfitRecord
	for rows.Next() {
		record, err := scanProfitRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profit record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profit records: %w", err)
	}
	return records, nil
}

func scanProfitRecord(row rowScanner) (*models.ProfitRecord, error) {
	var r models.ProfitRecord
	err := row.Scan(
		&r.ID, &r.UserID, &r.Date, &r.DailyProfit, &r.CumulativeProfit, &r.ShareAmount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
