package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction type constants
const (
	TransactionBuy  = "buy"
	TransactionSell = "sell"
)

// Transaction is an immutable ledger record of a buy or sell
type Transaction struct {
	ID          int             `json:"id"`
	UserID      int             `json:"user_id"`
	FundID      int             `json:"fund_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Shares      decimal.Decimal `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	ExternalRef string          `json:"external_ref,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}
