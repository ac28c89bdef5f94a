// Package report builds settlement reports over a window of days and renders
// them as spreadsheets or terminal markdown.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/models"
)

// DefaultDays is the report window when none is given
const DefaultDays = 30

// Store defines the reads a report needs
type Store interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetAgreementByUserID(ctx context.Context, userID int) (*models.Agreement, error)
	GetProfitRecords(ctx context.Context, userID int, from, to time.Time) ([]*models.ProfitRecord, error)
}

// Valuer values a user's holdings at the latest NAV
type Valuer interface {
	ComputePortfolioValue(ctx context.Context, userID int) (decimal.Decimal, error)
}

// UserReport is one account's section of a report
type UserReport struct {
	User         *models.User
	Agreement    *models.Agreement // nil when the account has none
	CurrentValue decimal.Decimal
	Records      []*models.ProfitRecord
}

// TotalDaily sums daily profit over the window
func (u UserReport) TotalDaily() decimal.Decimal {
	return lo.Reduce(u.Records, func(acc decimal.Decimal, r *models.ProfitRecord, _ int) decimal.Decimal {
		return acc.Add(r.DailyProfit)
	}, decimal.Zero)
}

// TotalShare sums share amounts over the window
func (u UserReport) TotalShare() decimal.Decimal {
	return lo.Reduce(u.Records, func(acc decimal.Decimal, r *models.ProfitRecord, _ int) decimal.Decimal {
		return acc.Add(r.ShareAmount)
	}, decimal.Zero)
}

// Cumulative is the cumulative profit of the latest record in the window
func (u UserReport) Cumulative() decimal.Decimal {
	if len(u.Records) == 0 {
		return decimal.Zero
	}
	return u.Records[len(u.Records)-1].CumulativeProfit
}

// Report covers [From, To] inclusive
type Report struct {
	From  time.Time
	To    time.Time
	Users []UserReport
}

// Builder assembles reports from the store
type Builder struct {
	store  Store
	valuer Valuer
}

// NewBuilder creates a report builder
func NewBuilder(store Store, valuer Valuer) *Builder {
	return &Builder{store: store, valuer: valuer}
}

// Build reports the days up to and including the date of to. A userID of zero
// covers every sub-account; otherwise only that account is reported.
func (b *Builder) Build(ctx context.Context, to time.Time, days, userID int) (*Report, error) {
	if days < 1 {
		days = DefaultDays
	}
	end := calendar.DateOf(to)
	r := &Report{From: end.AddDate(0, 0, -days), To: end}

	var users []*models.User
	if userID != 0 {
		u, err := b.store.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		users = []*models.User{u}
	} else {
		all, err := b.store.ListUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		users = lo.Filter(all, func(u *models.User, _ int) bool { return !u.IsPrimary() })
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	for _, u := range users {
		section, err := b.userReport(ctx, u, r.From, r.To)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", u.ID, err)
		}
		r.Users = append(r.Users, section)
	}
	return r, nil
}

func (b *Builder) userReport(ctx context.Context, u *models.User, from, to time.Time) (UserReport, error) {
	section := UserReport{User: u}

	agreement, err := b.store.GetAgreementByUserID(ctx, u.ID)
	switch {
	case err == nil:
		section.Agreement = agreement
	case !errors.Is(err, database.ErrNotFound):
		return section, fmt.Errorf("failed to load agreement: %w", err)
	}

	section.CurrentValue, err = b.valuer.ComputePortfolioValue(ctx, u.ID)
	if err != nil {
		return section, fmt.Errorf("failed to value portfolio: %w", err)
	}

	section.Records, err = b.store.GetProfitRecords(ctx, u.ID, from, to)
	if err != nil {
		return section, fmt.Errorf("failed to load profit records: %w", err)
	}
	return section, nil
}

// FormatCNY renders an amount in yuan with thousands separators, rounded to fen
func FormatCNY(d decimal.Decimal) string {
	return money.New(d.Shift(2).Round(0).IntPart(), money.CNY).Display()
}
