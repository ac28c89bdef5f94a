package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/models"
	"github.com/trogers1052/fund-share-service/internal/portfolio"
)

// TransactionApplier records a buy or sell against a position
type TransactionApplier interface {
	ApplyTransaction(ctx context.Context, req portfolio.TransactionRequest) (*models.Transaction, error)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

// Consumer applies TRANSACTION_REQUESTED events to positions. The event's ref
// is stored as the transaction's external ref, so redelivered messages are
// recognised and not applied twice.
type Consumer struct {
	reader  messageReader
	applier TransactionApplier
	logger  *logging.Logger
}

// NewConsumer creates a new Kafka consumer for transaction requests
func NewConsumer(brokers []string, topic, groupID string, applier TransactionApplier, logger *logging.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:  reader,
		applier: applier,
		logger:  logger,
	}
}

// Start consumes messages until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Str("topic", c.reader.Config().Topic).Msg("starting kafka consumer")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("kafka consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info().Msg("kafka consumer shutting down")
					return c.reader.Close()
				}
				c.logger.Error().Err(err).Msg("error reading message")
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Error().
					Err(err).
					Int("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("error processing message")
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal transaction event: %w", err)
	}

	if event.EventType != models.EventTransactionRequested {
		c.logger.Debug().Str("event_type", event.EventType).Msg("ignoring event")
		return nil
	}

	req, err := convertEventToRequest(event)
	if err != nil {
		return fmt.Errorf("failed to convert event: %w", err)
	}

	txn, err := c.applier.ApplyTransaction(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to apply transaction %s: %w", req.ExternalRef, err)
	}

	c.logger.Info().
		Str("ref", req.ExternalRef).
		Int("transaction_id", txn.ID).
		Str("source", event.Source).
		Msg("transaction request processed")
	return nil
}

// convertEventToRequest maps a TransactionEvent to a portfolio request. The ref
// is namespaced by source so independent producers cannot collide.
func convertEventToRequest(event models.TransactionEvent) (portfolio.TransactionRequest, error) {
	data := event.Data
	if data.Ref == "" {
		return portfolio.TransactionRequest{}, errors.New("missing ref")
	}

	amount, err := decimal.NewFromString(data.Amount)
	if err != nil {
		return portfolio.TransactionRequest{}, fmt.Errorf("invalid amount %s: %w", data.Amount, err)
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return portfolio.TransactionRequest{}, fmt.Errorf("invalid price %s: %w", data.Price, err)
	}

	fee := decimal.Zero
	if data.Fee != "" {
		fee, err = decimal.NewFromString(data.Fee)
		if err != nil {
			return portfolio.TransactionRequest{}, fmt.Errorf("invalid fee %s: %w", data.Fee, err)
		}
	}

	var executedAt time.Time
	if data.ExecutedAt != nil && *data.ExecutedAt != "" {
		executedAt, err = time.Parse(time.RFC3339, *data.ExecutedAt)
		if err != nil {
			// Try parsing without timezone
			executedAt, err = time.Parse("2006-01-02T15:04:05", *data.ExecutedAt)
			if err != nil {
				return portfolio.TransactionRequest{}, fmt.Errorf("invalid executed_at %s: %w", *data.ExecutedAt, err)
			}
		}
	}

	ref := data.Ref
	if event.Source != "" {
		ref = event.Source + ":" + data.Ref
	}

	return portfolio.TransactionRequest{
		UserID:      data.UserID,
		FundCode:    data.FundCode,
		Type:        data.Side,
		Amount:      amount,
		Price:       price,
		Fee:         fee,
		ExecutedAt:  executedAt,
		ExternalRef: ref,
	}, nil
}

// Close closes the Kafka consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}
