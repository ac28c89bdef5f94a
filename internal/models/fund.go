package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund represents a tracked fund and its most recent net asset value
type Fund struct {
	ID        int              `json:"id"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Category  string           `json:"category,omitempty"`
	LatestNav *decimal.Decimal `json:"latest_nav,omitempty"`
	NavAsOf   *time.Time       `json:"nav_as_of,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// HasNav reports whether the fund carries a published NAV.
func (f *Fund) HasNav() bool {
	return f.LatestNav != nil && f.NavAsOf != nil
}

// NavHistoryEntry is one published NAV for a fund on a calendar date
type NavHistoryEntry struct {
	ID        int             `json:"id"`
	FundID    int             `json:"fund_id"`
	Date      time.Time       `json:"date"`
	Nav       decimal.Decimal `json:"nav"`
	CreatedAt time.Time       `json:"created_at"`
}

// NavPoint is a dated NAV value not yet bound to a stored fund
type NavPoint struct {
	Date time.Time       `json:"date"`
	Nav  decimal.Decimal `json:"nav"`
}
