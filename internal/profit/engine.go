// Package profit settles daily profit, cumulative profit and the profit-share
// or capital-protection amount of each account.
package profit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/metrics"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// Store defines the persistence operations the engine needs
type Store interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	SumSubAccountPrincipal(ctx context.Context) (decimal.Decimal, error)
	GetAgreementByUserID(ctx context.Context, userID int) (*models.Agreement, error)
	UpsertDailyProfit(ctx context.Context, userID int, date time.Time, dailyProfit decimal.Decimal) (*models.ProfitRecord, error)
	GetProfitRecord(ctx context.Context, userID int, date time.Time) (*models.ProfitRecord, error)
	SaveShareAmount(ctx context.Context, userID int, date time.Time, share decimal.Decimal) (*models.ProfitRecord, error)
}

// Valuer values a user's holdings at the latest NAV
type Valuer interface {
	ComputePortfolioValue(ctx context.Context, userID int) (decimal.Decimal, error)
}

// Publisher receives settled records
type Publisher interface {
	PublishProfitSettled(ctx context.Context, record *models.ProfitRecord) error
}

// Engine settles profit records. All dates are reduced to calendar dates with
// calendar.DateOf before they reach the store.
type Engine struct {
	store     Store
	valuer    Valuer
	publisher Publisher
	logger    *logging.Logger
}

// NewEngine creates a profit engine. publisher may be nil.
func NewEngine(store Store, valuer Valuer, publisher Publisher, logger *logging.Logger) *Engine {
	return &Engine{
		store:     store,
		valuer:    valuer,
		publisher: publisher,
		logger:    logger,
	}
}

// Summary reports the outcome of SettleAll. Total is the number of users
// listed, Processed the number settled successfully and Failed the reason per
// failed user. Users left after a cancellation appear in neither.
type Summary struct {
	Date      time.Time      `json:"date"`
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Failed    map[int]string `json:"failed,omitempty"`
}

// SettleDaily values the user's portfolio and records value minus baseline as
// the day's profit. The baseline of a sub-account is its own principal; the
// primary account's baseline is the principal of all sub-accounts together.
// Settling the same date again overwrites the day's profit.
func (e *Engine) SettleDaily(ctx context.Context, userID int, asOf time.Time) (*models.ProfitRecord, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	value, err := e.valuer.ComputePortfolioValue(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to value portfolio: %w", err)
	}

	baseline := user.Principal
	if user.IsPrimary() {
		baseline, err = e.store.SumSubAccountPrincipal(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to sum sub-account principal: %w", err)
		}
	}

	record, err := e.store.UpsertDailyProfit(ctx, userID, calendar.DateOf(asOf), value.Sub(baseline))
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("user_id", userID).
		Str("value", value.String()).
		Str("baseline", baseline.String()).
		Str("daily_profit", record.DailyProfit.String()).
		Msg("daily profit settled")
	return record, nil
}

// SettleShare computes and stores the day's share amount of a sub-account with
// an agreement. A positive daily profit yields profit * ratio owed to the
// primary account. Otherwise a capital-protected account whose value is below
// principal * protection ratio is owed the shortfall, recorded as a negative
// amount. Every other case stores zero. Primary accounts and sub-accounts
// without an agreement return zero and write nothing.
func (e *Engine) SettleShare(ctx context.Context, userID int, asOf time.Time) (decimal.Decimal, error) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load user: %w", err)
	}
	if user.IsPrimary() {
		return decimal.Zero, nil
	}

	agreement, err := e.store.GetAgreementByUserID(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load agreement: %w", err)
	}

	date := calendar.DateOf(asOf)
	record, err := e.store.GetProfitRecord(ctx, userID, date)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("failed to load profit record: %w", err)
	}

	dailyProfit := decimal.Zero
	if record != nil {
		dailyProfit = record.DailyProfit
	}

	share := decimal.Zero
	switch {
	case dailyProfit.IsPositive():
		share = dailyProfit.Mul(agreement.ProfitShareRatio)
	case agreement.IsCapitalProtected:
		value, err := e.valuer.ComputePortfolioValue(ctx, userID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to value portfolio: %w", err)
		}
		guarantee := user.Principal.Mul(agreement.CapitalProtectionRatio)
		if value.LessThan(guarantee) {
			share = value.Sub(guarantee)
		}
	}

	// a zero share needs no record of its own
	if record == nil && share.IsZero() {
		return share, nil
	}
	if _, err := e.store.SaveShareAmount(ctx, userID, date, share); err != nil {
		return decimal.Zero, err
	}

	e.logger.Debug().Int("user_id", userID).Str("share_amount", share.String()).Msg("share amount settled")
	return share, nil
}

// SettleAll settles every user for asOf: SettleDaily for all users, then
// SettleShare for sub-accounts. A failing user is logged and skipped; the
// joined failures are returned alongside the summary. Users settled before a
// failure stay committed.
func (e *Engine) SettleAll(ctx context.Context, asOf time.Time) (Summary, error) {
	summary := Summary{Date: calendar.DateOf(asOf)}

	users, err := e.store.ListUsers(ctx)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return summary, fmt.Errorf("failed to list users: %w", err)
	}
	summary.Total = len(users)

	var errs []error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if err := e.settleUser(ctx, user, asOf); err != nil {
			metrics.SettlementsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			e.logger.Error().Err(err).Int("user_id", user.ID).Msg("settlement failed")
			if summary.Failed == nil {
				summary.Failed = make(map[int]string)
			}
			summary.Failed[user.ID] = err.Error()
			errs = append(errs, fmt.Errorf("user %d: %w", user.ID, err))
			continue
		}

		metrics.SettlementsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		summary.Processed++
	}

	e.logger.Info().
		Str("date", summary.Date.Format("2006-01-02")).
		Int("total", summary.Total).
		Int("processed", summary.Processed).
		Int("failed", len(summary.Failed)).
		Msg("settlement complete")
	return summary, errors.Join(errs...)
}

func (e *Engine) settleUser(ctx context.Context, user *models.User, asOf time.Time) error {
	record, err := e.SettleDaily(ctx, user.ID, asOf)
	if err != nil {
		return err
	}

	if !user.IsPrimary() {
		share, err := e.SettleShare(ctx, user.ID, asOf)
		if err != nil {
			return err
		}
		record.ShareAmount = share
	}

	if e.publisher != nil {
		if err := e.publisher.PublishProfitSettled(ctx, record); err != nil {
			e.logger.Warn().Err(err).Int("user_id", user.ID).Msg("failed to publish profit event")
		}
	}
	return nil
}
