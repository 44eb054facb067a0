package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-ordering/internal/logger"
	"ms-ordering/internal/models"
)

// StockEvent is a restock or correction published by the inventory tooling.
type StockEvent struct {
	StoreID string `json:"store_id"`
	SKUID   string `json:"sku_id"`
	models.StockAdjustment
}

// StockHandler applies one stock event. A failing event is retried a few
// times and then skipped.
type StockHandler func(ctx context.Context, event StockEvent) error

const (
	maxHandleAttempts = 3
	retryBackoff      = 200 * time.Millisecond
	fetchBackoff      = 500 * time.Millisecond
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Start consumes until ctx is done. Malformed messages are committed and
// skipped.
func (c *Consumer) Start(ctx context.Context, handler StockHandler) {
	c.logger.Info("KAFKA", "Stock event consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("KAFKA", "Stock event consumer stopped")
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			select {
			case <-ctx.Done():
				c.logger.Info("KAFKA", "Stock event consumer stopped")
				return
			case <-time.After(fetchBackoff):
			}
			continue
		}

		var event StockEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil || event.StoreID == "" || event.SKUID == "" {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping malformed stock event at offset %d: %v", msg.Offset, err))
			c.commit(ctx, msg)
			continue
		}

		if err := c.handle(ctx, handler, event); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Dropping stock event for %s/%s at offset %d: %v", event.StoreID, event.SKUID, msg.Offset, err))
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, handler StockHandler, event StockEvent) error {
	var err error
	for attempt := 1; attempt <= maxHandleAttempts; attempt++ {
		if err = handler(ctx, event); err == nil {
			return nil
		}
		c.logger.Warn("KAFKA", fmt.Sprintf("Stock event for %s/%s failed (attempt %d/%d): %v", event.StoreID, event.SKUID, attempt, maxHandleAttempts, err))
		if attempt == maxHandleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("KAFKA", fmt.Sprintf("Commit offset %d failed: %v", msg.Offset, err))
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
