package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/fund-share-service/internal/metrics"
	"github.com/trogers1052/fund-share-service/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles publishing events to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
		now:    time.Now,
	}
}

// PublishNavUpdated publishes a NAV updated event keyed by fund code
func (p *Producer) PublishNavUpdated(ctx context.Context, fund *models.Fund) error {
	return p.publish(ctx, fund.Code, p.newEvent(models.EventNavUpdated, fund.Code, fund, nil))
}

// PublishFundRegistered publishes a fund registered event
func (p *Producer) PublishFundRegistered(ctx context.Context, fund *models.Fund) error {
	return p.publish(ctx, fund.Code, p.newEvent(models.EventFundRegistered, fund.Code, fund, nil))
}

// PublishProfitSettled publishes a settled profit record keyed by user
func (p *Producer) PublishProfitSettled(ctx context.Context, record *models.ProfitRecord) error {
	return p.publish(ctx, strconv.Itoa(record.UserID), p.newEvent(models.EventProfitSettled, "", nil, record))
}

func (p *Producer) newEvent(eventType, code string, fund *models.Fund, record *models.ProfitRecord) models.FundEvent {
	return models.FundEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		FundCode:  code,
		Fund:      fund,
		Profit:    record,
		Timestamp: p.now().UTC(),
	}
}

func (p *Producer) publish(ctx context.Context, key string, event models.FundEvent) error {
	msg, err := encodeEvent(key, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	metrics.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}

func encodeEvent(key string, event models.FundEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}, nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
