package services

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	userLockStripes      = 64
	trendConfidenceCap   = 0.9
	trendConfidenceScale = 2.0
	weightChangeEpsilon  = 1e-9
)

// WeightsListener is notified after a user's base weights were persisted.
type WeightsListener func(userID uuid.UUID, weights models.WeightVector)

// WeightAdjustmentService owns the per-user base weight vectors and learns
// adjustments from feedback.
type WeightAdjustmentService struct {
	cfg       config.LearningConfig
	weights   WeightRepository
	feedback  FeedbackRepository
	publisher EventPublisher
	metrics   *Metrics
	logger    *logrus.Logger
	now       Clock

	locks [userLockStripes]sync.Mutex

	runningMu sync.Mutex
	running   map[uuid.UUID]struct{}

	listenersMu sync.RWMutex
	listeners   []WeightsListener
}

func NewWeightAdjustmentService(
	cfg config.LearningConfig,
	weights WeightRepository,
	feedback FeedbackRepository,
	publisher EventPublisher,
	metrics *Metrics,
	logger *logrus.Logger,
	now Clock,
) *WeightAdjustmentService {
	if now == nil {
		now = time.Now
	}
	return &WeightAdjustmentService{
		cfg:       cfg,
		weights:   weights,
		feedback:  feedback,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       now,
		running:   make(map[uuid.UUID]struct{}),
	}
}

func (s *WeightAdjustmentService) lockFor(userID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(userID[:])
	return &s.locks[h.Sum32()%userLockStripes]
}

// OnWeightsChanged registers fn to run after every persisted weight change.
func (s *WeightAdjustmentService) OnWeightsChanged(fn WeightsListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *WeightAdjustmentService) notify(userID uuid.UUID, weights models.WeightVector) {
	s.listenersMu.RLock()
	listeners := append([]WeightsListener(nil), s.listeners...)
	s.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(userID, weights.Clone())
	}
}

// GetWeights returns the user's base weights, or the defaults for a user that
// has never been adjusted.
func (s *WeightAdjustmentService) GetWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error) {
	if userID == uuid.Nil {
		return nil, models.Validationf("get weights", "user id is required")
	}
	weights, err := s.weights.GetWeights(ctx, userID)
	if err != nil {
		return nil, models.Downstream("get weights", err)
	}
	if weights == nil {
		return models.DefaultWeights(), nil
	}
	if !weights.IsNormalized() || len(weights) != len(models.Dimensions) {
		return weights.Normalized(), nil
	}
	return weights, nil
}

// SetWeights merges a partial vector over the current weights and renormalises.
// Every provided value must lie within [0,1].
func (s *WeightAdjustmentService) SetWeights(ctx context.Context, userID uuid.UUID, partial models.WeightVector) (models.WeightVector, error) {
	const op = "set weights"

	if userID == uuid.Nil {
		return nil, models.Validationf(op, "user id is required")
	}
	if len(partial) == 0 {
		return nil, models.Validationf(op, "at least one weight is required")
	}
	if err := partial.Validate(); err != nil {
		return nil, err
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.GetWeights(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := current.Clone()
	for d, v := range partial {
		merged[d] = v
	}
	updated := merged.Normalized()

	now := s.now()
	var records []models.WeightAdjustmentRecord
	for _, d := range models.Dimensions {
		if math.Abs(updated[d]-current[d]) <= weightChangeEpsilon {
			continue
		}
		records = append(records, models.WeightAdjustmentRecord{
			ID:         uuid.New(),
			UserID:     userID,
			Attribute:  d,
			OldWeight:  current[d],
			NewWeight:  updated[d],
			Reason:     models.ReasonManual,
			Confidence: 1,
			Timestamp:  now,
		})
	}

	if err := s.persist(ctx, userID, updated, records); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *WeightAdjustmentService) persist(ctx context.Context, userID uuid.UUID, weights models.WeightVector, records []models.WeightAdjustmentRecord) error {
	if err := s.weights.SaveWeights(ctx, userID, weights, records); err != nil {
		return models.Downstream("save weights", err)
	}

	for _, r := range records {
		s.metrics.AdjustmentsApplied.WithLabelValues(string(r.Attribute), r.Reason).Inc()
	}

	if s.publisher != nil && len(records) > 0 {
		if err := s.publisher.PublishWeightAdjustments(ctx, userID, records); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to publish weight adjustments")
		}
	}

	s.notify(userID, weights)
	return nil
}

// AnalyzeAndSuggestAdjustments looks for dimensions whose values separate the
// candidates a user accepted from those they rejected within window.
func (s *WeightAdjustmentService) AnalyzeAndSuggestAdjustments(ctx context.Context, userID uuid.UUID, window time.Duration) (*models.AdjustmentSuggestion, error) {
	if window <= 0 {
		window = s.cfg.AnalysisWindow
	}
	return s.suggestSince(ctx, userID, s.now().Add(-window))
}

// suggestSince analyses the feedback recorded at or after since.
func (s *WeightAdjustmentService) suggestSince(ctx context.Context, userID uuid.UUID, since time.Time) (*models.AdjustmentSuggestion, error) {
	const op = "analyze feedback"

	now := s.now()
	events, err := s.feedback.ListFeedbackEvents(ctx, userID, since)
	if err != nil {
		return nil, models.Downstream(op, err)
	}

	suggestion := &models.AdjustmentSuggestion{
		UserID:      userID,
		SampleSize:  len(events),
		Trends:      []models.AttributeTrend{},
		Adjustments: []models.WeightDelta{},
		GeneratedAt: now,
	}
	if len(events) < s.cfg.MinEvents {
		suggestion.Reason = models.ReasonInsufficientData
		return suggestion, nil
	}

	suggestion.Trends = s.detectTrends(events)
	if len(suggestion.Trends) == 0 {
		suggestion.Reason = models.ReasonNoTrends
		return suggestion, nil
	}

	current, err := s.GetWeights(ctx, userID)
	if err != nil {
		return nil, err
	}
	suggestion.Adjustments = s.GenerateAdjustments(current, suggestion.Trends)
	suggestion.Reason = models.ReasonTrendsDetected
	return suggestion, nil
}

func (s *WeightAdjustmentService) detectTrends(events []models.FeedbackEvent) []models.AttributeTrend {
	positive := make(map[models.Dimension][]float64)
	negative := make(map[models.Dimension][]float64)
	for _, e := range events {
		var bucket map[models.Dimension][]float64
		switch {
		case e.Action.IsAcceptLike():
			bucket = positive
		case e.Action.IsRejectLike():
			bucket = negative
		default:
			continue
		}
		for d, v := range e.TargetAttributes {
			if finite(v) {
				bucket[d] = append(bucket[d], v)
			}
		}
	}

	var trends []models.AttributeTrend
	for _, d := range models.Dimensions {
		pos, neg := positive[d], negative[d]
		if len(pos) == 0 || len(neg) == 0 {
			continue
		}
		posMean := stat.Mean(pos, nil)
		negMean := stat.Mean(neg, nil)
		diff := posMean - negMean
		if math.Abs(diff) <= s.cfg.TrendThreshold {
			continue
		}
		direction := models.TrendIncrease
		if diff < 0 {
			direction = models.TrendDecrease
		}
		trends = append(trends, models.AttributeTrend{
			Attribute:    d,
			Direction:    direction,
			PositiveMean: posMean,
			NegativeMean: negMean,
			Difference:   diff,
			Confidence:   math.Min(trendConfidenceCap, math.Abs(diff)*trendConfidenceScale),
		})
	}
	return trends
}

// GenerateAdjustments converts trends into bounded deltas against current.
// The returned NewWeight values are not yet renormalised.
func (s *WeightAdjustmentService) GenerateAdjustments(current models.WeightVector, trends []models.AttributeTrend) []models.WeightDelta {
	deltas := make([]models.WeightDelta, 0, len(trends))
	for _, t := range trends {
		delta := clamp(t.Confidence*s.cfg.AdaptationRate*t.Sign(), -s.cfg.MaxDelta, s.cfg.MaxDelta)
		old := current[t.Attribute]
		deltas = append(deltas, models.WeightDelta{
			Attribute:  t.Attribute,
			OldWeight:  old,
			NewWeight:  clamp(old+delta, 0, 1),
			Delta:      delta,
			Confidence: t.Confidence,
		})
	}
	return deltas
}

func (s *WeightAdjustmentService) tryAcquire(userID uuid.UUID) bool {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	if _, busy := s.running[userID]; busy {
		return false
	}
	s.running[userID] = struct{}{}
	return true
}

func (s *WeightAdjustmentService) release(userID uuid.UUID) {
	s.runningMu.Lock()
	delete(s.running, userID)
	s.runningMu.Unlock()
}

// ApplyAutomaticAdjustments applies the confident suggestions for a user. Only
// feedback newer than the user's last automatic adjustment is analysed, so a
// trend is applied once. A run that overlaps another run for the same user
// returns immediately with Skipped set.
func (s *WeightAdjustmentService) ApplyAutomaticAdjustments(ctx context.Context, userID uuid.UUID) (*models.AdjustmentRun, error) {
	run := &models.AdjustmentRun{UserID: userID, Applied: []models.WeightAdjustmentRecord{}}

	if !s.tryAcquire(userID) {
		run.Skipped = true
		run.Reason = models.ReasonAlreadyRunning
		return run, nil
	}
	defer s.release(userID)

	since, err := s.unanalysedSince(ctx, userID)
	if err != nil {
		return nil, err
	}
	suggestion, err := s.suggestSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if suggestion.Reason != models.ReasonTrendsDetected {
		run.Reason = suggestion.Reason
		return run, nil
	}

	var confident []models.WeightDelta
	for _, adj := range suggestion.Adjustments {
		if adj.Confidence >= s.cfg.MinApplyConfidence {
			confident = append(confident, adj)
		}
	}
	if len(confident) == 0 {
		run.Reason = models.ReasonLowConfidence
		return run, nil
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.GetWeights(ctx, userID)
	if err != nil {
		return nil, err
	}

	adjusted := current.Clone()
	for _, adj := range confident {
		adjusted[adj.Attribute] = clamp(current[adj.Attribute]+adj.Delta, 0, 1)
	}
	updated := adjusted.Normalized()

	now := s.now()
	records := make([]models.WeightAdjustmentRecord, 0, len(confident))
	for _, adj := range confident {
		records = append(records, models.WeightAdjustmentRecord{
			ID:         uuid.New(),
			UserID:     userID,
			Attribute:  adj.Attribute,
			OldWeight:  current[adj.Attribute],
			NewWeight:  updated[adj.Attribute],
			Reason:     models.ReasonAutomatic,
			Confidence: adj.Confidence,
			SampleSize: suggestion.SampleSize,
			Timestamp:  now,
		})
	}

	if err := s.persist(ctx, userID, updated, records); err != nil {
		return nil, err
	}
	if err := s.updateLearningProfile(ctx, userID, confident, now); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to update learning profile")
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"adjustments": len(records),
		"sample_size": suggestion.SampleSize,
	}).Info("Applied automatic weight adjustments")

	run.Applied = records
	run.Weights = updated
	run.Reason = models.ReasonAutomatic
	return run, nil
}

// unanalysedSince is the start of the analysis window, moved up to just past
// the last automatic adjustment when that is more recent.
func (s *WeightAdjustmentService) unanalysedSince(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	since := s.now().Add(-s.cfg.AnalysisWindow)

	profile, err := s.weights.GetLearningProfile(ctx, userID)
	if err != nil {
		return since, models.Downstream("load learning profile", err)
	}
	if profile != nil && profile.LastAdjustmentAt != nil {
		// Events stamped at the adjustment instant were part of that run.
		if last := profile.LastAdjustmentAt.Add(time.Microsecond); last.After(since) {
			since = last
		}
	}
	return since, nil
}

func (s *WeightAdjustmentService) updateLearningProfile(ctx context.Context, userID uuid.UUID, applied []models.WeightDelta, at time.Time) error {
	profile, err := s.weights.GetLearningProfile(ctx, userID)
	if err != nil {
		return err
	}
	if profile == nil {
		profile = &models.LearningProfile{UserID: userID}
	}

	sum := profile.LearningVelocity * float64(profile.TotalAdjustments)
	for _, adj := range applied {
		sum += math.Abs(adj.Delta)
	}
	profile.TotalAdjustments += len(applied)
	profile.LearningVelocity = sum / float64(profile.TotalAdjustments)
	if s.cfg.MaxDelta > 0 {
		profile.AdaptationRate = clamp(profile.LearningVelocity/s.cfg.MaxDelta, 0, 1)
	}
	profile.LastAdjustmentAt = &at
	profile.UpdatedAt = at

	return s.weights.SaveLearningProfile(ctx, profile)
}

// LearningProfile returns the user's adjustment aggregate; a user without any
// automatic adjustment gets an empty profile.
func (s *WeightAdjustmentService) LearningProfile(ctx context.Context, userID uuid.UUID) (*models.LearningProfile, error) {
	profile, err := s.weights.GetLearningProfile(ctx, userID)
	if err != nil {
		return nil, models.Downstream("get learning profile", err)
	}
	if profile == nil {
		profile = &models.LearningProfile{UserID: userID}
	}
	return profile, nil
}

// LastAdjustment returns the time of the user's latest persisted adjustment, or nil.
func (s *WeightAdjustmentService) LastAdjustment(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	profile, err := s.LearningProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profile.LastAdjustmentAt, nil
}

func bucketOf(e models.FeedbackEvent) (string, int) {
	tod := e.Context.TimeOfDay
	if tod == "" {
		tod = models.TimeOfDay(e.Timestamp)
	}
	return tod, int(e.Timestamp.Weekday())
}

// acceptedAttributeMeans averages target attributes over accept-like events.
func acceptedAttributeMeans(events []models.FeedbackEvent) (map[models.Dimension]float64, int) {
	values := make(map[models.Dimension][]float64)
	n := 0
	for _, e := range events {
		if !e.Action.IsAcceptLike() {
			continue
		}
		n++
		for d, v := range e.TargetAttributes {
			if finite(v) {
				values[d] = append(values[d], v)
			}
		}
	}
	means := make(map[models.Dimension]float64, len(values))
	for d, vs := range values {
		means[d] = stat.Mean(vs, nil)
	}
	return means, n
}

func relativeDeltas(subset, baseline map[models.Dimension]float64) models.Deltas {
	deltas := make(models.Deltas, len(subset))
	for d, v := range subset {
		if base, ok := baseline[d]; ok {
			deltas[d] = clamp(v-base, -1, 1)
		}
	}
	return deltas
}

func (s *WeightAdjustmentService) history(ctx context.Context, userID uuid.UUID) ([]models.FeedbackEvent, error) {
	events, err := s.feedback.ListFeedbackEvents(ctx, userID, s.now().Add(-s.cfg.HistoryWindow))
	if err != nil {
		return nil, models.Downstream("load feedback history", err)
	}
	return events, nil
}

// AnalyzeTemporalPatterns buckets accepted candidates by time of day and day of
// week. Buckets below the sample minimum are left out.
func (s *WeightAdjustmentService) AnalyzeTemporalPatterns(ctx context.Context, userID uuid.UUID) ([]models.TemporalPattern, error) {
	events, err := s.history(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.temporalPatterns(events), nil
}

func (s *WeightAdjustmentService) temporalPatterns(events []models.FeedbackEvent) []models.TemporalPattern {
	baseline, _ := acceptedAttributeMeans(events)

	type key struct {
		tod string
		dow int
	}
	buckets := make(map[key][]models.FeedbackEvent)
	for _, e := range events {
		tod, dow := bucketOf(e)
		buckets[key{tod, dow}] = append(buckets[key{tod, dow}], e)
	}

	patterns := make([]models.TemporalPattern, 0, len(buckets))
	for k, bucket := range buckets {
		means, n := acceptedAttributeMeans(bucket)
		if n < s.cfg.MinBucketSamples {
			continue
		}
		patterns = append(patterns, models.TemporalPattern{
			TimeOfDay: k.tod,
			DayOfWeek: k.dow,
			Samples:   n,
			Deltas:    relativeDeltas(means, baseline),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].DayOfWeek != patterns[j].DayOfWeek {
			return patterns[i].DayOfWeek < patterns[j].DayOfWeek
		}
		return patterns[i].TimeOfDay < patterns[j].TimeOfDay
	})
	return patterns
}

// AnalyzeMoodCorrelation compares accepted candidates per reported mood with the
// user's overall acceptances.
func (s *WeightAdjustmentService) AnalyzeMoodCorrelation(ctx context.Context, userID uuid.UUID) ([]models.MoodCorrelation, error) {
	events, err := s.history(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.moodCorrelations(events), nil
}

func (s *WeightAdjustmentService) moodCorrelations(events []models.FeedbackEvent) []models.MoodCorrelation {
	baseline, _ := acceptedAttributeMeans(events)

	byMood := make(map[string][]models.FeedbackEvent)
	for _, e := range events {
		if e.Context.Mood != "" {
			byMood[e.Context.Mood] = append(byMood[e.Context.Mood], e)
		}
	}

	out := make([]models.MoodCorrelation, 0, len(byMood))
	for mood, tagged := range byMood {
		if len(tagged) < s.cfg.MinMoodSamples {
			continue
		}
		means, _ := acceptedAttributeMeans(tagged)
		out = append(out, models.MoodCorrelation{
			Mood:    mood,
			Samples: len(tagged),
			Deltas:  relativeDeltas(means, baseline),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mood < out[j].Mood })
	return out
}

// ContextualDeltas returns the temporal delta for the bucket containing at and
// the mood delta for mood. Either is empty when there is not enough history.
func (s *WeightAdjustmentService) ContextualDeltas(ctx context.Context, userID uuid.UUID, at time.Time, mood string) (temporal, moodDeltas models.Deltas, err error) {
	events, err := s.history(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	temporal = models.Deltas{}
	tod, dow := models.TimeOfDay(at), int(at.Weekday())
	for _, p := range s.temporalPatterns(events) {
		if p.TimeOfDay == tod && p.DayOfWeek == dow {
			temporal = p.Deltas
			break
		}
	}

	moodDeltas = models.Deltas{}
	if mood != "" {
		for _, c := range s.moodCorrelations(events) {
			if c.Mood == mood {
				moodDeltas = c.Deltas
				break
			}
		}
	}
	return temporal, moodDeltas, nil
}
