package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

type recordingWriter struct {
	mu       sync.Mutex
	failures int
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func newTestBus(feedback, adjustments *recordingWriter) *EventBus {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return &EventBus{
		feedbackWriter:   feedback,
		adjustmentWriter: adjustments,
		feedbackTopic:    "feedback-events",
		adjustmentTopic:  "weight-adjustments",
		retryDelay:       time.Millisecond,
		logger:           logger,
	}
}

func TestEventBus_PublishFeedbackEvent(t *testing.T) {
	fw := &recordingWriter{}
	bus := newTestBus(fw, &recordingWriter{})

	event := &models.FeedbackEvent{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		TargetUserID: uuid.New(),
		Action:       models.ActionLike,
		Polarity:     models.PolarityPositive,
		Timestamp:    time.Now(),
	}

	require.NoError(t, bus.PublishFeedbackEvent(context.Background(), event))
	require.Len(t, fw.messages, 1)

	msg := fw.messages[0]
	assert.Equal(t, event.UserID.String(), string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "like", headers["action"])
	assert.Equal(t, event.ID.String(), headers["event_id"])

	var decoded FeedbackMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.TargetUserID, decoded.Event.TargetUserID)
}

func TestEventBus_RetriesTransientFailures(t *testing.T) {
	aw := &recordingWriter{failures: 2}
	bus := newTestBus(&recordingWriter{}, aw)

	records := []models.WeightAdjustmentRecord{{
		ID: uuid.New(), Attribute: models.DimensionStyle, OldWeight: 0.25, NewWeight: 0.27, Reason: "trend",
	}}

	require.NoError(t, bus.PublishWeightAdjustments(context.Background(), uuid.New(), records))
	assert.Len(t, aw.messages, 1)
}

func TestEventBus_GivesUpAfterRetries(t *testing.T) {
	fw := &recordingWriter{failures: maxPublishRetries + 1}
	bus := newTestBus(fw, &recordingWriter{})

	err := bus.PublishFeedbackEvent(context.Background(), &models.FeedbackEvent{ID: uuid.New(), UserID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feedback-events")
	assert.Empty(t, fw.messages)
}

func TestEventBus_SkipsEmptyAdjustmentBatch(t *testing.T) {
	aw := &recordingWriter{}
	bus := newTestBus(&recordingWriter{}, aw)

	require.NoError(t, bus.PublishWeightAdjustments(context.Background(), uuid.New(), nil))
	assert.Empty(t, aw.messages)
}

func TestNewEventBus_UsesConfiguredTopics(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.Brokers = []string{"localhost:9092"}

	bus := NewEventBus(cfg, logrus.New())
	assert.Equal(t, "feedback-events", bus.feedbackTopic)
	assert.Equal(t, "weight-adjustments", bus.adjustmentTopic)
	assert.NoError(t, bus.Close())
}
