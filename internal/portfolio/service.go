// Package portfolio applies buy and sell transactions to positions and values
// holdings at the latest published NAV.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/metrics"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// ErrHistoryUnavailable is returned when a fund has no NAV history at all
var ErrHistoryUnavailable = errors.New("nav history unavailable")

// AverageWindow is the number of most recent NAV entries averaged
const AverageWindow = 30

// Store defines the persistence operations the portfolio service needs
type Store interface {
	EnsureFund(ctx context.Context, code, name string) (*models.Fund, error)
	ApplyTransaction(ctx context.Context, t *models.Transaction, mutate database.PositionMutation) (bool, error)
	GetHoldingsByUser(ctx context.Context, userID int) ([]models.HoldingValue, error)
	GetLatestNavs(ctx context.Context, fundID, n int, today time.Time) ([]models.NavHistoryEntry, error)
}

// TransactionRequest describes a buy or sell to record
type TransactionRequest struct {
	UserID      int             `json:"user_id"`
	FundCode    string          `json:"fund_code"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	ExecutedAt  time.Time       `json:"executed_at"`
	ExternalRef string          `json:"external_ref,omitempty"`
}

// Service values positions and applies transactions
type Service struct {
	store  Store
	logger *logging.Logger
	loc    *time.Location
	now    func() time.Time
}

// NewService creates a portfolio service. loc determines which calendar date
// counts as today.
func NewService(store Store, logger *logging.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:  store,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// ApplyTransaction records a buy or sell and updates the user's position in the
// same database transaction. The fund is created on first reference. A request
// whose ExternalRef was already recorded returns the stored transaction.
func (s *Service) ApplyTransaction(ctx context.Context, req TransactionRequest) (*models.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	fund, err := s.store.EnsureFund(ctx, req.FundCode, req.FundCode)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve fund: %w", err)
	}

	shares := SharesFor(req.Amount, req.Price)
	txn := &models.Transaction{
		UserID:      req.UserID,
		FundID:      fund.ID,
		Type:        req.Type,
		Amount:      req.Amount,
		Shares:      shares,
		Price:       req.Price,
		Fee:         req.Fee,
		ExternalRef: req.ExternalRef,
		ExecutedAt:  req.ExecutedAt,
	}

	applied, err := s.store.ApplyTransaction(ctx, txn, func(current *models.Position) (*models.Position, error) {
		return ApplyToPosition(current, req.Type, shares, req.Price)
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues(req.Type, "rejected").Inc()
		return nil, err
	}

	if !applied {
		metrics.TransactionsTotal.WithLabelValues(req.Type, "duplicate").Inc()
		s.logger.Info().Str("external_ref", req.ExternalRef).Int("transaction_id", txn.ID).Msg("transaction already recorded, skipping")
		return txn, nil
	}

	metrics.TransactionsTotal.WithLabelValues(req.Type, "applied").Inc()
	s.logger.Info().
		Int("user_id", req.UserID).
		Str("fund", req.FundCode).
		Str("type", req.Type).
		Str("amount", req.Amount.String()).
		Str("shares", shares.String()).
		Msg("transaction applied")
	return txn, nil
}

func (r *TransactionRequest) validate() error {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.FundCode = strings.TrimSpace(r.FundCode)

	switch {
	case r.UserID <= 0:
		return fmt.Errorf("%w: missing user", ErrInvalidTransaction)
	case r.FundCode == "":
		return fmt.Errorf("%w: missing fund code", ErrInvalidTransaction)
	case r.Type != models.TransactionBuy && r.Type != models.TransactionSell:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, r.Type)
	case r.Amount.IsNegative():
		return fmt.Errorf("%w: negative amount", ErrInvalidTransaction)
	case r.Price.IsNegative():
		return fmt.Errorf("%w: negative price", ErrInvalidTransaction)
	case r.Fee.IsNegative():
		return fmt.Errorf("%w: negative fee", ErrInvalidTransaction)
	case exceedsPlaces(r.Amount, cashPlaces):
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidTransaction, r.Amount, cashPlaces)
	case exceedsPlaces(r.Fee, cashPlaces):
		return fmt.Errorf("%w: fee %s has more than %d decimal places", ErrInvalidTransaction, r.Fee, cashPlaces)
	case exceedsPlaces(r.Price, sharePlaces):
		return fmt.Errorf("%w: price %s has more than %d decimal places", ErrInvalidTransaction, r.Price, sharePlaces)
	}
	return nil
}

// exceedsPlaces reports whether d carries non-zero digits past places. Stored
// amounts are fixed-point, so such values would no longer match the shares
// derived from them.
func exceedsPlaces(d decimal.Decimal, places int32) bool {
	return !d.Equal(d.Truncate(places))
}

// ComputePortfolioValue sums shares * latest NAV over the user's positions.
// Funds without a NAV yet contribute zero.
func (s *Service) ComputePortfolioValue(ctx context.Context, userID int) (decimal.Decimal, error) {
	holdings, err := s.store.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load holdings: %w", err)
	}
	return lo.Reduce(holdings, func(acc decimal.Decimal, h models.HoldingValue, _ int) decimal.Decimal {
		return acc.Add(h.MarketValue())
	}, decimal.Zero), nil
}

// Valuation breaks a user's portfolio down by holding
func (s *Service) Valuation(ctx context.Context, userID int) (*models.Valuation, error) {
	holdings, err := s.store.GetHoldingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load holdings: %w", err)
	}

	rows := lo.Map(holdings, func(h models.HoldingValue, _ int) models.HoldingSummary {
		nav := decimal.Zero
		if h.LatestNav != nil {
			nav = *h.LatestNav
		}
		value := h.MarketValue()
		cost := h.Shares.Mul(h.CostPrice)
		return models.HoldingSummary{
			FundCode:      h.FundCode,
			FundName:      h.FundName,
			Shares:        h.Shares,
			CostPrice:     h.CostPrice,
			Nav:           nav,
			NavAsOf:       h.NavAsOf,
			MarketValue:   value,
			CostBasis:     cost,
			UnrealizedPnl: value.Sub(cost),
		}
	})

	v := &models.Valuation{
		UserID:      userID,
		Holdings:    rows,
		MarketValue: decimal.Zero,
		CostBasis:   decimal.Zero,
	}
	for _, r := range rows {
		v.MarketValue = v.MarketValue.Add(r.MarketValue)
		v.CostBasis = v.CostBasis.Add(r.CostBasis)
	}
	v.UnrealizedPnl = v.MarketValue.Sub(v.CostBasis)
	return v, nil
}

// Compute30DayAverage averages up to the 30 most recent NAV entries dated on or
// before today. Fewer entries are averaged as they are; none at all yields
// ErrHistoryUnavailable.
func (s *Service) Compute30DayAverage(ctx context.Context, fundID int) (decimal.Decimal, error) {
	today := calendar.DateOf(s.now().In(s.loc))
	entries, err := s.store.GetLatestNavs(ctx, fundID, AverageWindow, today)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load nav history: %w", err)
	}
	if len(entries) == 0 {
		return decimal.Zero, fmt.Errorf("%w: fund %d", ErrHistoryUnavailable, fundID)
	}

	navs := lo.Map(entries, func(e models.NavHistoryEntry, _ int) decimal.Decimal { return e.Nav })
	return decimal.Avg(navs[0], navs[1:]...), nil
}
