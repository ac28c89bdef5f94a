package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents a user's current holding in one fund
type Position struct {
	ID        int             `json:"id"`
	UserID    int             `json:"user_id"`
	FundID    int             `json:"fund_id"`
	Shares    decimal.Decimal `json:"shares"`
	CostPrice decimal.Decimal `json:"cost_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HoldingValue is a position joined with its fund's latest NAV
type HoldingValue struct {
	Position
	FundCode  string           `json:"fund_code"`
	FundName  string           `json:"fund_name"`
	LatestNav *decimal.Decimal `json:"latest_nav,omitempty"`
	NavAsOf   *time.Time       `json:"nav_as_of,omitempty"`
}

// MarketValue returns shares * latest NAV, or zero when the fund has no NAV yet.
func (h *HoldingValue) MarketValue() decimal.Decimal {
	if h.LatestNav == nil {
		return decimal.Zero
	}
	return h.Shares.Mul(*h.LatestNav)
}

// Valuation is a user's portfolio broken down by holding
type Valuation struct {
	UserID        int              `json:"user_id"`
	Holdings      []HoldingSummary `json:"holdings"`
	MarketValue   decimal.Decimal  `json:"market_value"`
	CostBasis     decimal.Decimal  `json:"cost_basis"`
	UnrealizedPnl decimal.Decimal  `json:"unrealized_pnl"`
}

// HoldingSummary is one row of a Valuation
type HoldingSummary struct {
	FundCode      string          `json:"fund_code"`
	FundName      string          `json:"fund_name"`
	Shares        decimal.Decimal `json:"shares"`
	CostPrice     decimal.Decimal `json:"cost_price"`
	Nav           decimal.Decimal `json:"nav"`
	NavAsOf       *time.Time      `json:"nav_as_of,omitempty"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}
