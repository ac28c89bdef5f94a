package models

import "time"

// Event type constants
const (
	EventNavUpdated           = "NAV_UPDATED"
	EventProfitSettled        = "PROFIT_SETTLED"
	EventFundRegistered       = "FUND_REGISTERED"
	EventTransactionRequested = "TRANSACTION_REQUESTED"
)

// FundEvent represents a Kafka event emitted by the refresh and settlement pipeline
type FundEvent struct {
	ID        string        `json:"id"`
	EventType string        `json:"event_type"`
	FundCode  string        `json:"fund_code,omitempty"`
	Fund      *Fund         `json:"fund,omitempty"`
	Profit    *ProfitRecord `json:"profit,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TransactionEvent represents an inbound Kafka request to record a buy or sell
type TransactionEvent struct {
	EventType string               `json:"event_type"`
	Source    string               `json:"source"`
	Data      TransactionEventData `json:"data"`
}

// TransactionEventData carries the transaction fields as strings to keep decimal precision
type TransactionEventData struct {
	Ref        string  `json:"ref"`
	UserID     int     `json:"user_id"`
	FundCode   string  `json:"fund_code"`
	Side       string  `json:"side"`
	Amount     string  `json:"amount"`
	Price      string  `json:"price"`
	Fee        string  `json:"fee,omitempty"`
	ExecutedAt *string `json:"executed_at,omitempty"`
}
