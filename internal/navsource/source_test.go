package navsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/fund-share-service/internal/logging"
)

type stubSource struct {
	name    string
	quote   Quote
	err     error
	history []HistoryPoint
	histErr error
	calls   int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchNav(ctx context.Context, code string) (Quote, error) {
	s.calls++
	return s.quote, s.err
}

type stubHistorySource struct {
	stubSource
}

func (s *stubHistorySource) FetchHistory(ctx context.Context, code string, maxDays int) ([]HistoryPoint, error) {
	return s.history, s.histErr
}

func date(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func TestChain_FetchNavUsesFirstSuccess(t *testing.T) {
	primary := &stubSource{name: "primary", quote: Quote{Nav: decimal.NewFromInt(2), AsOf: date(1)}}
	fallback := &stubSource{name: "fallback", quote: Quote{Nav: decimal.NewFromInt(3), AsOf: date(1)}}

	chain := NewChain(logging.NewSilent(), primary, fallback)
	q, err := chain.FetchNav(context.Background(), "000001")
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(2).Equal(q.Nav))
	assert.Equal(t, "000001", q.Code)
	assert.Equal(t, 0, fallback.calls)
}

func TestChain_FetchNavFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *stubSource
	}{
		{"error", &stubSource{name: "primary", err: ErrSourceUnavailable}},
		{"value without date", &stubSource{name: "primary", quote: Quote{Nav: decimal.NewFromInt(2)}}},
		{"date without value", &stubSource{name: "primary", quote: Quote{AsOf: date(1)}}},
		{"negative value", &stubSource{name: "primary", quote: Quote{Nav: decimal.NewFromInt(-1), AsOf: date(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &stubSource{name: "fallback", quote: Quote{Nav: decimal.NewFromInt(3), AsOf: date(1), Source: "fallback"}}

			chain := NewChain(logging.NewSilent(), tt.primary, fallback)
			q, err := chain.FetchNav(context.Background(), "000001")
			require.NoError(t, err)
			assert.Equal(t, "fallback", q.Source)
			assert.Equal(t, 1, tt.primary.calls)
		})
	}
}

func TestChain_FetchNavExhausted(t *testing.T) {
	chain := NewChain(logging.NewSilent(),
		&stubSource{name: "a", err: errors.New("boom")},
		&stubSource{name: "b", err: ErrSourceUnavailable},
	)

	_, err := chain.FetchNav(context.Background(), "000001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChain_FetchHistorySkipsFailingSources(t *testing.T) {
	broken := &stubHistorySource{stubSource{name: "broken", histErr: ErrSourceUnavailable}}
	empty := &stubHistorySource{stubSource{name: "empty"}}
	good := &stubHistorySource{stubSource{name: "good", history: []HistoryPoint{
		{Date: date(4), Nav: decimal.NewFromInt(4)},
		{Date: date(1), Nav: decimal.NewFromInt(1)},
	}}}
	navOnly := &stubSource{name: "nav-only"}

	chain := NewChain(logging.NewSilent(), navOnly, broken, empty, good)
	points, err := chain.FetchHistory(context.Background(), "000001", 30)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, date(1), points[0].Date)
}

func TestChain_FetchHistoryNoSources(t *testing.T) {
	chain := NewChain(logging.NewSilent(), &stubSource{name: "nav-only"})
	_, err := chain.FetchHistory(context.Background(), "000001", 30)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeHistory(t *testing.T) {
	points := []HistoryPoint{
		{Date: date(5), Nav: decimal.NewFromInt(5)},
		{Date: date(3), Nav: decimal.NewFromInt(3)},
		{Date: date(3), Nav: decimal.NewFromInt(33)},
		{Date: date(4), Nav: decimal.Zero},
		{Date: date(2), Nav: decimal.NewFromInt(2)},
		{Date: date(1), Nav: decimal.NewFromInt(1)},
	}

	out := NormalizeHistory(points, 3)
	require.Len(t, out, 3)
	assert.Equal(t, date(2), out[0].Date)
	assert.Equal(t, date(3), out[1].Date)
	assert.True(t, decimal.NewFromInt(3).Equal(out[1].Nav), "first occurrence of a date wins")
	assert.Equal(t, date(5), out[2].Date)
}
