package kafka

import (
	"context"
	"encoding/json"

	"github.com/neurocast-ai/platform/pkg/common/config"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

type Consumer struct {
	reader *kafka.Reader
	topic  string
}

type EventHandler func(ctx context.Context, event models.Event) error

// Dispatch routes events to a handler by event type. The forecasting topics
// carry more than one type (forecasts.lifecycle holds completed and failed
// events, features.extraction holds completions and invalidations); a
// consumer rarely wants all of them. Types without a handler are dropped
// and committed.
func Dispatch(handlers map[string]EventHandler) EventHandler {
	return func(ctx context.Context, event models.Event) error {
		handler, ok := handlers[event.Type]
		if !ok {
			logger.Log.WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
			}).Debug("no handler for event type, dropping")
			return nil
		}
		return handler(ctx, event)
	}
}

func NewConsumer(topic string, groupID string) *Consumer {
	cfg := config.Load()
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader, topic: topic}
}

func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).WithField("topic", c.topic).Error("Failed to fetch message")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).WithField("topic", c.topic).Error("Failed to unmarshal event")
			c.reader.CommitMessages(ctx, message)
			continue
		}

		if err := handler(ctx, event); err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"event_id":   event.ID,
				"event_type": event.Type,
				"topic":      c.topic,
			}).Error("Failed to process event")
			// Left uncommitted so the group redelivers it.
			continue
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			logger.Log.WithError(err).WithField("topic", c.topic).Error("Failed to commit message")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
