package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/fund-share-service/internal/models"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func newTestProducer(w *mockWriter) *Producer {
	return &Producer{
		writer: w,
		topic:  "fund-events",
		now:    func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) },
	}
}

func decodeEvent(t *testing.T, msg kafka.Message) models.FundEvent {
	t.Helper()
	var event models.FundEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	return event
}

func TestProducer_PublishNavUpdated(t *testing.T) {
	w := &mockWriter{}
	p := newTestProducer(w)
	nav := decimal.RequireFromString("1.2345")
	asOf := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := p.PublishNavUpdated(context.Background(), &models.Fund{ID: 1, Code: "000001", LatestNav: &nav, NavAsOf: &asOf})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "000001", string(w.msgs[0].Key))
	assert.Equal(t, models.EventNavUpdated, string(w.msgs[0].Headers[0].Value))

	event := decodeEvent(t, w.msgs[0])
	assert.Equal(t, models.EventNavUpdated, event.EventType)
	assert.NotEmpty(t, event.ID)
	require.NotNil(t, event.Fund)
	assert.True(t, nav.Equal(*event.Fund.LatestNav))
	assert.Nil(t, event.Profit)
}

func TestProducer_PublishProfitSettled(t *testing.T) {
	w := &mockWriter{}
	p := newTestProducer(w)

	err := p.PublishProfitSettled(context.Background(), &models.ProfitRecord{UserID: 7, DailyProfit: decimal.NewFromInt(500)})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "7", string(w.msgs[0].Key))
	event := decodeEvent(t, w.msgs[0])
	assert.Equal(t, models.EventProfitSettled, event.EventType)
	require.NotNil(t, event.Profit)
	assert.True(t, decimal.NewFromInt(500).Equal(event.Profit.DailyProfit))
}

func TestProducer_EventIDsAreUnique(t *testing.T) {
	w := &mockWriter{}
	p := newTestProducer(w)
	fund := &models.Fund{Code: "000001"}

	require.NoError(t, p.PublishFundRegistered(context.Background(), fund))
	require.NoError(t, p.PublishFundRegistered(context.Background(), fund))

	assert.NotEqual(t, decodeEvent(t, w.msgs[0]).ID, decodeEvent(t, w.msgs[1]).ID)
}

func TestProducer_WriteError(t *testing.T) {
	p := newTestProducer(&mockWriter{err: errors.New("broker down")})

	err := p.PublishNavUpdated(context.Background(), &models.Fund{Code: "000001"})
	assert.ErrorContains(t, err, "broker down")
}
