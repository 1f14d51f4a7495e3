package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	hobbyOverlapShare   = 0.7
	hobbyActivityShare  = 0.3
	maxActivityLevel    = 10.0
	contentStyleShare   = 0.7
	contentHobbyShare   = 0.3
	locationDecayFactor = 0.5
)

// CompatibilityScorer filters and scores candidates against a user across the
// weighted dimensions.
type CompatibilityScorer struct {
	cfg          config.MatchingConfig
	interactions InteractionStore
	augmenter    CollaborativeAugmenter
	metrics      *Metrics
	logger       *logrus.Logger
}

func NewCompatibilityScorer(
	cfg config.MatchingConfig,
	interactions InteractionStore,
	augmenter CollaborativeAugmenter,
	metrics *Metrics,
	logger *logrus.Logger,
) *CompatibilityScorer {
	if augmenter == nil {
		augmenter = NoCollaborativeSignal{}
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	return &CompatibilityScorer{
		cfg:          cfg,
		interactions: interactions,
		augmenter:    augmenter,
		metrics:      metrics,
		logger:       logger,
	}
}

// NoCollaborativeSignal is the default CollaborativeAugmenter. No similar-user
// model exists yet, so it contributes nothing.
type NoCollaborativeSignal struct{}

func (NoCollaborativeSignal) Augment(ctx context.Context, userID uuid.UUID, candidates []uuid.UUID) (map[uuid.UUID]float64, error) {
	return map[uuid.UUID]float64{}, nil
}

// RecentTargets lists the users the given user interacted with inside the
// recent-interaction window ending at now.
func (s *CompatibilityScorer) RecentTargets(ctx context.Context, userID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	return s.interactions.RecentTargets(ctx, userID, now.Add(-s.cfg.RecentInteractionWindow))
}

// MaxDistanceKm is the user's distance preference or the configured default.
func (s *CompatibilityScorer) MaxDistanceKm(user *models.Profile) float64 {
	if user != nil && user.Preferences.MaxDistanceKm > 0 {
		return user.Preferences.MaxDistanceKm
	}
	return s.cfg.DefaultMaxDistanceKm
}

// ScoreCandidates pre-filters candidates, scores the survivors in parallel and
// returns them sorted by total score, filtered by MinScore and cut to Limit.
// Malformed candidates are skipped; an interaction store failure fails the call.
func (s *CompatibilityScorer) ScoreCandidates(
	ctx context.Context,
	user *models.Profile,
	candidates []*models.Profile,
	weights models.WeightVector,
	opts models.ScoreOptions,
) ([]models.MatchScore, error) {
	const op = "score candidates"

	if user == nil || user.ID == uuid.Nil {
		return nil, models.Validationf(op, "user profile is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = models.AlgorithmHybrid
	}
	if !opts.Algorithm.Valid() {
		return nil, models.Validationf(op, "unknown algorithm %q", opts.Algorithm)
	}
	if weights == nil {
		weights = models.DefaultWeights()
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	if opts.Now.IsZero() {
		opts.Now = start
	}
	since := opts.Now.Add(-s.cfg.RecentInteractionWindow)
	maxDistance := s.MaxDistanceKm(user)
	scored := make([]*models.MatchScore, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)

	for i, candidate := range candidates {
		g.Go(func() error {
			if reason := malformed(candidate); reason != "" {
				s.metrics.CandidatesSkipped.WithLabelValues("malformed").Inc()
				s.logger.WithFields(logrus.Fields{
					"user_id": user.ID,
					"reason":  reason,
				}).Warn("Skipping malformed candidate")
				return nil
			}
			if reason := preFilter(user, candidate, maxDistance); reason != "" {
				s.metrics.CandidatesSkipped.WithLabelValues(reason).Inc()
				return nil
			}

			recent, err := s.interactions.HasRecentInteraction(gctx, user.ID, candidate.ID, since)
			if err != nil {
				return models.Downstream(op, err)
			}
			if recent {
				s.metrics.CandidatesSkipped.WithLabelValues("recent_interaction").Inc()
				return nil
			}

			score := s.score(user, candidate, weights, maxDistance, opts.Algorithm)
			scored[i] = &score
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]models.MatchScore, 0, len(candidates))
	for _, sc := range scored {
		if sc != nil {
			results = append(results, *sc)
		}
	}

	if opts.Algorithm == models.AlgorithmCollaborative && len(results) > 0 {
		s.augment(ctx, user.ID, results)
	}

	filtered := results[:0]
	for _, r := range results {
		if r.TotalScore >= opts.MinScore {
			filtered = append(filtered, r)
		}
	}
	results = filtered

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].TotalScore != results[j].TotalScore {
			return results[i].TotalScore > results[j].TotalScore
		}
		return results[i].CandidateID.String() < results[j].CandidateID.String()
	})
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	s.metrics.CandidatesScored.Add(float64(len(results)))
	s.metrics.ScoringLatency.WithLabelValues(string(opts.Algorithm)).Observe(time.Since(start).Seconds())
	return results, nil
}

// augment folds the collaborative contribution into the hybrid score. An
// augmenter failure degrades to the plain hybrid ranking.
func (s *CompatibilityScorer) augment(ctx context.Context, userID uuid.UUID, results []models.MatchScore) {
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.CandidateID
	}
	extra, err := s.augmenter.Augment(ctx, userID, ids)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Collaborative augmentation failed")
		return
	}
	for i := range results {
		if v, ok := extra[results[i].CandidateID]; ok {
			results[i].TotalScore = clamp(results[i].TotalScore+v, 0, 1)
		}
	}
}

func (s *CompatibilityScorer) score(user, candidate *models.Profile, weights models.WeightVector, maxDistance float64, algorithm models.Algorithm) models.MatchScore {
	breakdown := Breakdown(user, candidate, maxDistance)
	present := dataPresence(user, candidate)

	var total, confidence float64
	switch algorithm {
	case models.AlgorithmContent:
		total = contentStyleShare*breakdown[models.DimensionStyle] + contentHobbyShare*breakdown[models.DimensionHobby]
		if present[models.DimensionStyle] {
			confidence += contentStyleShare
		}
		if present[models.DimensionHobby] {
			confidence += contentHobbyShare
		}
	default:
		mass := 0.0
		for _, d := range models.Dimensions {
			w := weights[d]
			total += breakdown[d] * w
			mass += w
			if present[d] {
				confidence += w
			}
		}
		if mass > 0 {
			confidence /= mass
		}
	}

	return models.MatchScore{
		CandidateID:  candidate.ID,
		TotalScore:   clamp(total, 0, 1),
		Breakdown:    breakdown,
		Explanations: Explain(breakdown),
		Confidence:   clamp(confidence, 0, 1),
	}
}

// Breakdown computes every per-dimension sub-score in [0,1].
func Breakdown(user, candidate *models.Profile, maxDistanceKm float64) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		models.DimensionStyle:       styleScore(user.Style, candidate.Style),
		models.DimensionEmotional:   cosineSimilarity(user.Emotional, candidate.Emotional),
		models.DimensionPersonality: cosineSimilarity(user.Personality, candidate.Personality),
		models.DimensionHobby:       hobbyScore(user, candidate),
		models.DimensionLocation:    locationScore(models.HaversineKm(user.Location, candidate.Location), maxDistanceKm),
	}
}

// styleScore is the mean Jaccard similarity over the union of style categories.
func styleScore(a, b map[string][]uuid.UUID) float64 {
	categories := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		categories[k] = struct{}{}
	}
	for k := range b {
		categories[k] = struct{}{}
	}
	if len(categories) == 0 {
		return 0
	}
	sum := 0.0
	for k := range categories {
		sum += jaccard(a[k], b[k])
	}
	return sum / float64(len(categories))
}

func hobbyScore(a, b *models.Profile) float64 {
	activity := 1 - math.Abs(a.ActivityLevel-b.ActivityLevel)/maxActivityLevel
	return clamp(hobbyOverlapShare*jaccard(a.Hobbies, b.Hobbies)+hobbyActivityShare*clamp(activity, 0, 1), 0, 1)
}

func locationScore(distanceKm, maxDistanceKm float64) float64 {
	if maxDistanceKm <= 0 {
		return 0
	}
	return clamp(math.Exp(-distanceKm/(maxDistanceKm*locationDecayFactor)), 0, 1)
}

func dataPresence(a, b *models.Profile) map[models.Dimension]bool {
	return map[models.Dimension]bool{
		models.DimensionStyle:       len(a.Style) > 0 && len(b.Style) > 0,
		models.DimensionEmotional:   len(a.Emotional) > 0 && len(a.Emotional) == len(b.Emotional),
		models.DimensionPersonality: len(a.Personality) > 0 && len(a.Personality) == len(b.Personality),
		models.DimensionHobby:       len(a.Hobbies) > 0 && len(b.Hobbies) > 0,
		models.DimensionLocation:    true,
	}
}

type explanationRule struct {
	dimension models.Dimension
	threshold float64
	text      string
}

var explanationRules = []explanationRule{
	{models.DimensionStyle, 0.7, "very similar style"},
	{models.DimensionStyle, 0.4, "overlapping style taste"},
	{models.DimensionEmotional, 0.8, "emotionally in tune"},
	{models.DimensionPersonality, 0.8, "compatible personalities"},
	{models.DimensionHobby, 0.6, "shares your hobbies"},
	{models.DimensionLocation, 0.8, "lives nearby"},
	{models.DimensionLocation, 0.5, "within easy reach"},
}

// Explain turns sub-scores into short qualitative reasons. Only the strongest
// rule per dimension applies.
func Explain(breakdown models.ScoreBreakdown) []string {
	var out []string
	matched := make(map[models.Dimension]bool)
	for _, rule := range explanationRules {
		if matched[rule.dimension] {
			continue
		}
		if breakdown[rule.dimension] > rule.threshold {
			out = append(out, rule.text)
			matched[rule.dimension] = true
		}
	}
	return out
}

// preFilter returns the reason a candidate is excluded, or "".
func preFilter(user, candidate *models.Profile, maxDistance float64) string {
	if candidate.ID == user.ID {
		return "self"
	}
	if !user.Preferences.AcceptsAge(candidate.Age) || !candidate.Preferences.AcceptsAge(user.Age) {
		return "age"
	}
	if !user.Preferences.AcceptsGender(candidate.Gender) || !candidate.Preferences.AcceptsGender(user.Gender) {
		return "gender"
	}
	if maxDistance > 0 && models.HaversineKm(user.Location, candidate.Location) > maxDistance {
		return "distance"
	}
	return ""
}

func malformed(p *models.Profile) string {
	switch {
	case p == nil:
		return "nil profile"
	case p.ID == uuid.Nil:
		return "missing id"
	case !finite(p.Location.Lat) || !finite(p.Location.Lng) ||
		math.Abs(p.Location.Lat) > 90 || math.Abs(p.Location.Lng) > 180:
		return "invalid location"
	case !finite(p.ActivityLevel) || p.ActivityLevel < 0 || p.ActivityLevel > maxActivityLevel:
		return "activity level out of range"
	}
	for _, v := range p.Emotional {
		if !finite(v) {
			return "non-finite emotional vector"
		}
	}
	for _, v := range p.Personality {
		if !finite(v) {
			return "non-finite personality vector"
		}
	}
	return ""
}
