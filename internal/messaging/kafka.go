package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	maxPublishRetries = 2
	publishTimeout    = 10 * time.Second
)

// FeedbackMessage is the payload written to the feedback events topic.
type FeedbackMessage struct {
	Event       *models.FeedbackEvent `json:"event"`
	PublishedAt time.Time             `json:"published_at"`
}

// WeightAdjustmentMessage is the payload written to the weight adjustments topic.
type WeightAdjustmentMessage struct {
	UserID      uuid.UUID                       `json:"user_id"`
	Records     []models.WeightAdjustmentRecord `json:"records"`
	PublishedAt time.Time                       `json:"published_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventBus publishes feedback events and applied weight adjustments, keyed by
// user so a user's events stay ordered within a partition.
type EventBus struct {
	feedbackWriter   messageWriter
	adjustmentWriter messageWriter
	feedbackTopic    string
	adjustmentTopic  string
	retryDelay       time.Duration
	logger           *logrus.Logger
}

func NewEventBus(cfg *config.Config, logger *logrus.Logger) *EventBus {
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		}
	}

	return &EventBus{
		feedbackWriter:   newWriter(cfg.Kafka.Topics.FeedbackEvents),
		adjustmentWriter: newWriter(cfg.Kafka.Topics.WeightAdjustments),
		feedbackTopic:    cfg.Kafka.Topics.FeedbackEvents,
		adjustmentTopic:  cfg.Kafka.Topics.WeightAdjustments,
		retryDelay:       200 * time.Millisecond,
		logger:           logger,
	}
}

func (eb *EventBus) PublishFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error {
	payload, err := json.Marshal(FeedbackMessage{Event: event, PublishedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal feedback event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "action", Value: []byte(event.Action)},
			{Key: "polarity", Value: []byte(event.Polarity)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}

	if err := eb.publish(ctx, eb.feedbackWriter, eb.feedbackTopic, msg); err != nil {
		return err
	}

	eb.logger.WithFields(logrus.Fields{
		"event_id": event.ID,
		"user_id":  event.UserID,
		"action":   event.Action,
		"topic":    eb.feedbackTopic,
	}).Debug("Feedback event published")
	return nil
}

func (eb *EventBus) PublishWeightAdjustments(ctx context.Context, userID uuid.UUID, records []models.WeightAdjustmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(WeightAdjustmentMessage{UserID: userID, Records: records, PublishedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal weight adjustments: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID.String()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "user_id", Value: []byte(userID.String())},
			{Key: "reason", Value: []byte(records[0].Reason)},
			{Key: "count", Value: []byte(fmt.Sprintf("%d", len(records)))},
		},
	}

	if err := eb.publish(ctx, eb.adjustmentWriter, eb.adjustmentTopic, msg); err != nil {
		return err
	}

	eb.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"records": len(records),
		"topic":   eb.adjustmentTopic,
	}).Info("Weight adjustments published")
	return nil
}

// publish writes with a bounded timeout and retries with exponential backoff.
func (eb *EventBus) publish(ctx context.Context, w messageWriter, topic string, msg kafka.Message) error {
	var lastErr error
	for attempt := 0; attempt <= maxPublishRetries; attempt++ {
		if attempt > 0 {
			delay := eb.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		writeCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		lastErr = w.WriteMessages(writeCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}

		eb.logger.WithError(lastErr).WithFields(logrus.Fields{
			"topic":   topic,
			"attempt": attempt,
		}).Warn("Kafka publish failed")
	}
	return fmt.Errorf("failed to write message to %s: %w", topic, lastErr)
}

func (eb *EventBus) Close() error {
	var errs []error

	if err := eb.feedbackWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close feedback writer: %w", err))
	}
	if err := eb.adjustmentWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close adjustment writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing event bus: %v", errs)
	}
	return nil
}

// NoopPublisher drops every event. It is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error {
	return nil
}

func (NoopPublisher) PublishWeightAdjustments(ctx context.Context, userID uuid.UUID, records []models.WeightAdjustmentRecord) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
