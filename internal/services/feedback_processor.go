package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

type feedbackSession struct {
	id       string
	lastSeen time.Time
}

// FeedbackProcessor records feedback events, keeps daily aggregates current and
// decides when a user's weights should be re-learned.
type FeedbackProcessor struct {
	cfg          config.FeedbackConfig
	repo         FeedbackRepository
	interactions InteractionStore
	profiles     ProfileStore
	styles       *StyleProfileAggregator
	weights      *WeightAdjustmentService
	scorer       *CompatibilityScorer
	publisher    EventPublisher
	metrics      *Metrics
	logger       *logrus.Logger
	now          Clock

	queue chan models.FeedbackEvent

	sessionsMu sync.Mutex
	sessions   map[uuid.UUID]feedbackSession

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewFeedbackProcessor(
	cfg config.FeedbackConfig,
	repo FeedbackRepository,
	interactions InteractionStore,
	profiles ProfileStore,
	styles *StyleProfileAggregator,
	weights *WeightAdjustmentService,
	scorer *CompatibilityScorer,
	publisher EventPublisher,
	metrics *Metrics,
	logger *logrus.Logger,
	now Clock,
) *FeedbackProcessor {
	if now == nil {
		now = time.Now
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &FeedbackProcessor{
		cfg:          cfg,
		repo:         repo,
		interactions: interactions,
		profiles:     profiles,
		styles:       styles,
		weights:      weights,
		scorer:       scorer,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		now:          now,
		queue:        make(chan models.FeedbackEvent, cfg.QueueSize),
		sessions:     make(map[uuid.UUID]feedbackSession),
	}
}

// SubmitFeedback records a user's action on a target. A like or super like
// that answers an earlier positive action of the target creates a match.
func (p *FeedbackProcessor) SubmitFeedback(ctx context.Context, req models.FeedbackRequest) (*models.FeedbackResult, error) {
	const op = "submit feedback"

	if req.UserID == uuid.Nil || req.TargetID == uuid.Nil {
		return nil, models.Validationf(op, "user id and target id are required")
	}
	if req.UserID == req.TargetID {
		return nil, models.Validationf(op, "cannot give feedback on yourself")
	}
	if !req.Action.Valid() {
		return nil, models.Validationf(op, "unknown action %q", req.Action)
	}

	event, err := p.RecordFeedbackEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	result := &models.FeedbackResult{Accepted: true, EventID: event.ID}

	if req.Action == models.ActionLike || req.Action == models.ActionSuperLike {
		mutual, err := p.interactions.HasPositiveInteraction(ctx, req.TargetID, req.UserID)
		if err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":   req.UserID,
				"target_id": req.TargetID,
			}).Warn("Reciprocity check failed")
			return result, nil
		}
		if mutual {
			matchReq := req
			matchReq.Action = models.ActionMatchCreated
			matchReq.Context.SessionID = event.Context.SessionID
			if _, err := p.RecordFeedbackEvent(ctx, matchReq); err != nil {
				p.logger.WithError(err).WithField("user_id", req.UserID).Error("Failed to record match")
			} else {
				result.MatchCreated = true
			}
		}
	}

	return result, nil
}

// RecordFeedbackEvent enriches, persists and routes one event. Critical
// actions are processed inline, everything else goes through the batch queue.
func (p *FeedbackProcessor) RecordFeedbackEvent(ctx context.Context, req models.FeedbackRequest) (*models.FeedbackEvent, error) {
	now := p.now()

	event := &models.FeedbackEvent{
		ID:           uuid.New(),
		UserID:       req.UserID,
		TargetUserID: req.TargetID,
		Action:       req.Action,
		Polarity:     req.Action.Polarity(),
		Timestamp:    now,
		Context:      req.Context,
	}
	event.Context.SessionID = p.sessionID(req.UserID, req.Context.SessionID, now)
	if event.Context.TimeOfDay == "" {
		event.Context.TimeOfDay = models.TimeOfDay(now)
	}
	event.Context.DayOfWeek = int(now.Weekday())

	p.enrich(ctx, event)

	if err := p.repo.SaveFeedbackEvent(ctx, event); err != nil {
		return nil, models.Downstream("save feedback event", err)
	}
	p.metrics.FeedbackEvents.WithLabelValues(string(event.Action)).Inc()

	if err := p.interactions.RecordInteraction(ctx, models.InteractionEvent{
		UserID:    event.UserID,
		TargetID:  event.TargetUserID,
		Action:    event.Action,
		Timestamp: now,
	}); err != nil {
		p.logger.WithError(err).WithField("user_id", event.UserID).Error("Failed to record interaction")
	}

	if p.publisher != nil {
		if err := p.publisher.PublishFeedbackEvent(ctx, event); err != nil {
			p.logger.WithError(err).WithField("event_id", event.ID).Warn("Failed to publish feedback event")
		}
	}

	if event.Action.IsCritical() {
		p.processCritical(ctx, *event)
		return event, nil
	}

	select {
	case p.queue <- *event:
	default:
		p.logger.WithField("user_id", event.UserID).Warn("Feedback queue full, processing inline")
		p.ProcessBatch(ctx, []models.FeedbackEvent{*event})
	}
	return event, nil
}

// sessionID keeps the caller's session id, otherwise reuses the user's last one
// while events keep arriving within the session gap.
func (p *FeedbackProcessor) sessionID(userID uuid.UUID, given string, now time.Time) string {
	p.sessionsMu.Lock()
	defer p.sessionsMu.Unlock()

	current, ok := p.sessions[userID]
	switch {
	case given != "":
		current = feedbackSession{id: given}
	case !ok || now.Sub(current.lastSeen) > p.cfg.SessionGap:
		current = feedbackSession{id: uuid.NewString()}
	}
	current.lastSeen = now
	p.sessions[userID] = current
	return current.id
}

// enrich attaches the weight snapshot, the target's per-dimension breakdown and
// the resulting match score. Both profiles carry their tournament style, as
// they do when ranking. Missing data leaves the fields empty.
func (p *FeedbackProcessor) enrich(ctx context.Context, event *models.FeedbackEvent) {
	weights, err := p.weights.GetWeights(ctx, event.UserID)
	if err != nil {
		p.logger.WithError(err).WithField("user_id", event.UserID).Warn("Weight snapshot unavailable")
	} else {
		event.WeightsSnapshot = weights
	}

	user, err := p.profiles.GetProfile(ctx, event.UserID)
	if err != nil || user == nil {
		return
	}
	target, err := p.profiles.GetProfile(ctx, event.TargetUserID)
	if err != nil || target == nil {
		return
	}
	user, target = user.Clone(), target.Clone()

	if p.styles != nil {
		styles, err := p.styles.GetMany(ctx, []uuid.UUID{user.ID, target.ID})
		if err != nil {
			p.logger.WithError(err).WithField("user_id", event.UserID).Warn("Style profiles unavailable for enrichment")
		} else {
			OverlayStyle(user, styles[user.ID])
			OverlayStyle(target, styles[target.ID])
		}
	}

	breakdown := Breakdown(user, target, p.scorer.MaxDistanceKm(user))
	event.TargetAttributes = map[models.Dimension]float64(breakdown)
	if weights != nil {
		score := 0.0
		for _, d := range models.Dimensions {
			score += breakdown[d] * weights[d]
		}
		event.MatchScore = clamp(score, 0, 1)
	}
}

func (p *FeedbackProcessor) processCritical(ctx context.Context, event models.FeedbackEvent) {
	p.refreshAggregates(ctx, event.UserID, []time.Time{event.Timestamp})

	count, err := p.repo.CountFeedbackEvents(ctx, event.UserID, event.Action, p.now().Add(-p.cfg.CriticalLookback))
	if err != nil {
		p.logger.WithError(err).WithField("user_id", event.UserID).Warn("Critical lookback failed")
		return
	}
	if count < p.cfg.CriticalThreshold {
		return
	}

	p.logger.WithFields(logrus.Fields{
		"user_id": event.UserID,
		"action":  event.Action,
		"count":   count,
	}).Info("Critical feedback threshold reached, adjusting weights")

	if _, err := p.weights.ApplyAutomaticAdjustments(ctx, event.UserID); err != nil {
		p.logger.WithError(err).WithField("user_id", event.UserID).Warn("Immediate weight adjustment failed")
	}
}

// ProcessBatch recomputes the daily aggregates touched by events and runs the
// trigger policy once per user. Failures are isolated per user.
func (p *FeedbackProcessor) ProcessBatch(ctx context.Context, events []models.FeedbackEvent) {
	days := make(map[uuid.UUID][]time.Time)
	for _, e := range events {
		days[e.UserID] = append(days[e.UserID], e.Timestamp)
	}

	for userID, stamps := range days {
		p.refreshAggregates(ctx, userID, stamps)
		p.maybeTrigger(ctx, userID)
	}
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// refreshAggregates rewrites the absolute polarity counts for each touched day.
func (p *FeedbackProcessor) refreshAggregates(ctx context.Context, userID uuid.UUID, stamps []time.Time) {
	seen := make(map[time.Time]bool)
	for _, ts := range stamps {
		day := dayStart(ts)
		if seen[day] {
			continue
		}
		seen[day] = true

		events, err := p.repo.ListFeedbackEvents(ctx, userID, day)
		if err != nil {
			p.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load events for aggregation")
			continue
		}

		var positive, negative, neutral int
		end := day.Add(24 * time.Hour)
		for _, e := range events {
			if e.Timestamp.Before(day) || !e.Timestamp.Before(end) {
				continue
			}
			switch e.Polarity {
			case models.PolarityPositive:
				positive++
			case models.PolarityNegative:
				negative++
			default:
				neutral++
			}
		}

		if err := p.repo.UpsertDailyAggregate(ctx, userID, day, positive, negative, neutral); err != nil {
			p.logger.WithError(err).WithField("user_id", userID).Warn("Failed to upsert daily aggregate")
		}
	}
}

// maybeTrigger adjusts weights once a user has produced enough recent feedback
// and the previous adjustment is old enough.
func (p *FeedbackProcessor) maybeTrigger(ctx context.Context, userID uuid.UUID) {
	now := p.now()
	logger := p.logger.WithField("user_id", userID)

	events, err := p.repo.ListFeedbackEvents(ctx, userID, now.Add(-p.cfg.TriggerWindow))
	if err != nil {
		logger.WithError(err).Warn("Trigger check failed")
		return
	}
	if len(events) < p.cfg.TriggerEvents {
		return
	}

	last, err := p.weights.LastAdjustment(ctx, userID)
	if err != nil {
		logger.WithError(err).Warn("Trigger check failed")
		return
	}
	if last != nil && now.Sub(*last) < p.cfg.TriggerCooldown {
		return
	}

	if _, err := p.weights.ApplyAutomaticAdjustments(ctx, userID); err != nil {
		logger.WithError(err).Warn("Triggered weight adjustment failed")
	}
}

// Start launches the batch loop.
func (p *FeedbackProcessor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.started = true

	interval := p.cfg.BatchInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ctx := p.ctx
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if batch := p.drain(p.cfg.BatchSize); len(batch) > 0 {
					p.ProcessBatch(ctx, batch)
				}
			}
		}
	}()

	p.logger.Info("Feedback processor started")
}

// Stop ends the batch loop and processes whatever is still queued.
func (p *FeedbackProcessor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.cancel()
	p.started = false
	p.mu.Unlock()

	p.wg.Wait()

	for {
		batch := p.drain(p.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}
		p.ProcessBatch(context.Background(), batch)
	}
	p.logger.Info("Feedback processor stopped")
}

// drain takes up to max queued events without blocking.
func (p *FeedbackProcessor) drain(max int) []models.FeedbackEvent {
	var batch []models.FeedbackEvent
	for len(batch) < max {
		select {
		case e := <-p.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

// Pending reports the number of queued events.
func (p *FeedbackProcessor) Pending() int {
	return len(p.queue)
}
