package portfolio

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/models"
)

var (
	// ErrInsufficientShares is returned when a sell exceeds the held shares
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrInvalidTransaction is returned for malformed transaction requests
	ErrInvalidTransaction = errors.New("invalid transaction")
)

const (
	// cashPlaces is the precision of amounts and fees
	cashPlaces = 2
	// sharePlaces is the precision shares and prices are kept at
	sharePlaces = 4
	// costPlaces is the precision of the stored weighted-average cost. It is
	// well below NAV precision so repeated buys do not drift.
	costPlaces = 10
)

// SharesFor converts a cash amount into fund shares at price. A non-positive
// price yields zero shares.
func SharesFor(amount, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return amount.DivRound(price, sharePlaces)
}

// ApplyToPosition returns the position that results from trading shares at
// price against current, which is nil when nothing is held. A nil result means
// no position remains. current is never modified.
//
// Buys accumulate shares at a weighted-average cost. Sells require a position
// holding at least the sold shares and leave the cost price unchanged.
func ApplyToPosition(current *models.Position, txType string, shares, price decimal.Decimal) (*models.Position, error) {
	switch txType {
	case models.TransactionBuy:
		if current == nil {
			if !shares.IsPositive() {
				return nil, nil
			}
			return &models.Position{Shares: shares, CostPrice: price}, nil
		}

		next := *current
		total := current.Shares.Add(shares)
		next.Shares = total
		if total.IsZero() {
			next.CostPrice = decimal.Zero
		} else {
			next.CostPrice = current.Shares.Mul(current.CostPrice).
				Add(shares.Mul(price)).
				DivRound(total, costPlaces)
		}
		return &next, nil

	case models.TransactionSell:
		if current == nil {
			return nil, fmt.Errorf("%w: no position held", ErrInsufficientShares)
		}
		if current.Shares.LessThan(shares) {
			return nil, fmt.Errorf("%w: holding %s, selling %s", ErrInsufficientShares, current.Shares, shares)
		}

		remaining := current.Shares.Sub(shares)
		if remaining.IsZero() {
			return nil, nil
		}
		next := *current
		next.Shares = remaining
		return &next, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, txType)
	}
}
