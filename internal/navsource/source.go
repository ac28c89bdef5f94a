// Package navsource fetches published fund NAVs from external providers.
package navsource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/metrics"
)

const dateLayout = "2006-01-02"

var (
	// ErrNotFound is returned when no source produced a well-formed NAV
	ErrNotFound = errors.New("nav not found")
	// ErrSourceUnavailable wraps a single source's failure: transport error,
	// unexpected status, malformed payload, or a missing value or date
	ErrSourceUnavailable = errors.New("nav source unavailable")
)

// Quote is a published NAV for a fund on a date
type Quote struct {
	Code   string          `json:"code"`
	Nav    decimal.Decimal `json:"nav"`
	AsOf   time.Time       `json:"as_of"`
	Source string          `json:"source"`
}

// HistoryPoint is one dated NAV from a provider's history listing
type HistoryPoint struct {
	Date time.Time
	Nav  decimal.Decimal
}

// Source fetches the latest published NAV for a fund
type Source interface {
	Name() string
	FetchNav(ctx context.Context, code string) (Quote, error)
}

// HistorySource fetches recent NAV history for a fund
type HistorySource interface {
	Name() string
	FetchHistory(ctx context.Context, code string, maxDays int) ([]HistoryPoint, error)
}

// Chain tries sources in priority order and returns the first well-formed result
type Chain struct {
	sources []Source
	history []HistorySource
	logger  *logging.Logger
}

// NewChain creates a chain over sources in priority order. Any source that also
// implements HistorySource is used for history backfill in the same order.
func NewChain(logger *logging.Logger, sources ...Source) *Chain {
	c := &Chain{sources: sources, logger: logger}
	for _, s := range sources {
		if h, ok := s.(HistorySource); ok {
			c.history = append(c.history, h)
		}
	}
	return c
}

// Name identifies the chain in logs and metrics
func (c *Chain) Name() string { return "chain" }

// FetchNav returns the first source's quote that carries a positive NAV and a
// date. Each failing source is logged and skipped; ErrNotFound is returned once
// all sources are exhausted. There are no retries within one call.
func (c *Chain) FetchNav(ctx context.Context, code string) (Quote, error) {
	for _, src := range c.sources {
		start := time.Now()
		q, err := src.FetchNav(ctx, code)
		elapsed := time.Since(start)

		if err == nil {
			err = validateQuote(q)
		}
		if err != nil {
			metrics.ObserveFetch(src.Name(), metrics.OutcomeFailure, elapsed)
			c.logger.Warn().Err(err).Str("fund", code).Str("source", src.Name()).Dur("elapsed", elapsed).Msg("nav source failed, trying next")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		metrics.ObserveFetch(src.Name(), metrics.OutcomeSuccess, elapsed)
		c.logger.Debug().Str("fund", code).Str("source", src.Name()).Str("nav", q.Nav.String()).
			Str("as_of", q.AsOf.Format(dateLayout)).Msg("nav fetched")
		q.Code = code
		return q, nil
	}

	metrics.NavFetchTotal.WithLabelValues("chain", metrics.OutcomeNotFound).Inc()
	return Quote{}, fmt.Errorf("%w: %s", ErrNotFound, code)
}

// FetchHistory returns up to maxDays of the most recent history from the first
// history source that yields data, deduplicated by date and sorted ascending.
func (c *Chain) FetchHistory(ctx context.Context, code string, maxDays int) ([]HistoryPoint, error) {
	for _, src := range c.history {
		points, err := src.FetchHistory(ctx, code, maxDays)
		if err != nil {
			c.logger.Warn().Err(err).Str("fund", code).Str("source", src.Name()).Msg("nav history source failed, trying next")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		points = NormalizeHistory(points, maxDays)
		if len(points) == 0 {
			continue
		}
		return points, nil
	}
	return nil, fmt.Errorf("%w: history for %s", ErrNotFound, code)
}

// NormalizeHistory drops non-positive values, keeps the first point seen for
// each date, sorts ascending and keeps the maxDays most recent points.
func NormalizeHistory(points []HistoryPoint, maxDays int) []HistoryPoint {
	seen := make(map[string]struct{}, len(points))
	out := make([]HistoryPoint, 0, len(points))
	for _, p := range points {
		if !p.Nav.IsPositive() || p.Date.IsZero() {
			continue
		}
		key := p.Date.Format(dateLayout)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	if maxDays > 0 && len(out) > maxDays {
		out = out[len(out)-maxDays:]
	}
	return out
}

func validateQuote(q Quote) error {
	if !q.Nav.IsPositive() {
		return fmt.Errorf("%w: non-positive nav %s", ErrSourceUnavailable, q.Nav)
	}
	if q.AsOf.IsZero() {
		return fmt.Errorf("%w: missing nav date", ErrSourceUnavailable)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrSourceUnavailable, s)
	}
	return d, nil
}
