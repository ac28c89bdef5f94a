package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProfitRecord is the settled profit of one user on one calendar date.
//
// ShareAmount is signed: positive is owed to the primary account as profit share,
// negative is compensation owed to the sub-account under capital protection.
type ProfitRecord struct {
	ID               int             `json:"id"`
	UserID           int             `json:"user_id"`
	Date             time.Time       `json:"date"`
	DailyProfit      decimal.Decimal `json:"daily_profit"`
	CumulativeProfit decimal.Decimal `json:"cumulative_profit"`
	ShareAmount      decimal.Decimal `json:"share_amount"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
