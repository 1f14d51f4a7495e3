package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/cache"
	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	defaultRecommendationLimit = 10
	maxRecommendationLimit     = 100

	temporalDeltaScale = 0.05
	moodDeltaScale     = 0.1
	sessionDeltaScale  = 0.05

	maxBonus             = 0.1
	recencyHalfLifeHours = 72.0
	diversityRankWeight  = 0.15
	explorationPenalty   = 0.9

	cacheShards = 16
)

// Session intents understood by the contextual weighting.
const (
	IntentNearby  = "nearby"
	IntentSerious = "serious"
	IntentCasual  = "casual"
)

var intentDeltas = map[string]models.Deltas{
	IntentNearby:  {models.DimensionLocation: 1},
	IntentSerious: {models.DimensionPersonality: 1, models.DimensionEmotional: 1},
	IntentCasual:  {models.DimensionHobby: 1, models.DimensionStyle: 1},
}

type shownEntry struct {
	id     uuid.UUID
	vector []float64
}

// AdaptiveOrchestrator turns base weights, context and the candidate pool into
// a ranked, diversified recommendation list.
type AdaptiveOrchestrator struct {
	cfg      config.OrchestratorConfig
	scorer   *CompatibilityScorer
	weights  *WeightAdjustmentService
	profiles ProfileStore
	styles   *StyleProfileAggregator
	results  cache.ResultCache
	metrics  *Metrics
	logger   *logrus.Logger
	now      Clock

	weightsCache *cache.TTLCache[models.WeightVector]
	profileCache *cache.TTLCache[*models.Profile]

	shownMu sync.Mutex
	shown   map[uuid.UUID][]shownEntry

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewAdaptiveOrchestrator(
	cfg config.OrchestratorConfig,
	scorer *CompatibilityScorer,
	weights *WeightAdjustmentService,
	profiles ProfileStore,
	styles *StyleProfileAggregator,
	results cache.ResultCache,
	metrics *Metrics,
	logger *logrus.Logger,
	rng *rand.Rand,
	now Clock,
) *AdaptiveOrchestrator {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		seed := cfg.RandomSeed
		if seed == 0 {
			seed = now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 3
	}
	if cfg.ShownHistorySize <= 0 {
		cfg.ShownHistorySize = 200
	}

	o := &AdaptiveOrchestrator{
		cfg:          cfg,
		scorer:       scorer,
		weights:      weights,
		profiles:     profiles,
		styles:       styles,
		results:      results,
		metrics:      metrics,
		logger:       logger,
		now:          now,
		weightsCache: cache.NewTTLCache[models.WeightVector](cacheShards, now),
		profileCache: cache.NewTTLCache[*models.Profile](cacheShards, now),
		shown:        make(map[uuid.UUID][]shownEntry),
		rng:          rng,
	}

	weights.OnWeightsChanged(func(userID uuid.UUID, _ models.WeightVector) {
		if err := o.InvalidateUser(context.Background(), userID); err != nil {
			o.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate caches after weight change")
		}
	})

	return o
}

// GenerateRecommendations implements the full ranking pipeline for one user.
func (o *AdaptiveOrchestrator) GenerateRecommendations(ctx context.Context, userID uuid.UUID, opts models.RecommendationOptions) (*models.RecommendationResult, error) {
	const op = "generate recommendations"
	start := time.Now()

	if userID == uuid.Nil {
		return nil, models.Validationf(op, "user id is required")
	}
	if opts.Limit == 0 {
		opts.Limit = defaultRecommendationLimit
	}
	if opts.Limit < 1 || opts.Limit > maxRecommendationLimit {
		return nil, models.Validationf(op, "limit must be between 1 and %d", maxRecommendationLimit)
	}
	if opts.Algorithm == "" {
		opts.Algorithm = models.AlgorithmHybrid
	}
	if !opts.Algorithm.Valid() {
		return nil, models.Validationf(op, "unknown algorithm %q", opts.Algorithm)
	}

	now := o.now()
	hash := paramsHash(opts, now)

	if opts.ForceRefresh {
		if err := o.InvalidateUser(ctx, userID); err != nil {
			o.logger.WithError(err).WithField("user_id", userID).Warn("Failed to invalidate caches")
		}
	} else if cached, ok, err := o.results.Get(ctx, userID, hash); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Result cache lookup failed")
	} else if ok {
		o.metrics.CacheRequests.WithLabelValues("results", "hit").Inc()
		cached.CacheHit = true
		return cached, nil
	}
	o.metrics.CacheRequests.WithLabelValues("results", "miss").Inc()

	base, err := o.baseWeights(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile, err := o.userProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	temporal, mood, err := o.weights.ContextualDeltas(ctx, userID, now, opts.Hints.Mood)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Contextual analysis failed, using base weights")
		temporal, mood = nil, nil
	}
	contextual := ContextualWeights(base, temporal, mood, SessionDeltas(opts.Hints))

	pool, err := o.candidatePool(ctx, profile, opts, now)
	if err != nil {
		return nil, err
	}

	scored, err := o.scorer.ScoreCandidates(ctx, profile, pool, contextual, models.ScoreOptions{
		Algorithm: opts.Algorithm,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*models.Profile, len(pool))
	for _, p := range pool {
		if p != nil {
			byID[p.ID] = p
		}
	}

	history := o.history(userID)
	for i := range scored {
		o.applyBonuses(&scored[i], byID[scored[i].CandidateID], history, now)
	}

	explore := 0
	if opts.IncludeExploration && o.cfg.ExplorationRate > 0 {
		explore = max(1, int(math.Round(float64(opts.Limit)*o.cfg.ExplorationRate)))
	}
	selected := o.diversify(scored, opts.Limit, explore)

	o.remember(userID, selected)

	result := &models.RecommendationResult{
		UserID:            userID,
		Recommendations:   selected,
		ContextualWeights: contextual,
		CandidatePool:     len(pool),
		GeneratedAt:       now,
	}

	if err := o.results.Set(ctx, userID, hash, result, o.cfg.ResultsTTL); err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Failed to cache recommendations")
	}

	o.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"count":     len(selected),
		"pool":      len(pool),
		"algorithm": opts.Algorithm,
		"latency":   time.Since(start),
	}).Info("Recommendations generated")

	return result, nil
}

func (o *AdaptiveOrchestrator) baseWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error) {
	key := userID.String()
	if w, ok := o.weightsCache.Get(key); ok {
		o.metrics.CacheRequests.WithLabelValues("weights", "hit").Inc()
		return w.Clone(), nil
	}
	o.metrics.CacheRequests.WithLabelValues("weights", "miss").Inc()

	w, err := o.weights.GetWeights(ctx, userID)
	if err != nil {
		return nil, err
	}
	o.weightsCache.Set(key, w.Clone(), o.cfg.WeightsTTL)
	return w, nil
}

// userProfile returns the cached profile with the user's tournament style overlaid.
func (o *AdaptiveOrchestrator) userProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	key := userID.String()
	if p, ok := o.profileCache.Get(key); ok {
		o.metrics.CacheRequests.WithLabelValues("profile", "hit").Inc()
		return p.Clone(), nil
	}
	o.metrics.CacheRequests.WithLabelValues("profile", "miss").Inc()

	profile, err := o.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, models.Downstream("load profile", err)
	}
	if profile == nil {
		return nil, models.NotFoundf("load profile", "profile %s not found", userID)
	}

	profile = profile.Clone()
	style, err := o.styles.Get(ctx, userID)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", userID).Warn("Style profile unavailable")
	} else {
		OverlayStyle(profile, style)
	}

	o.profileCache.Set(key, profile.Clone(), o.cfg.ProfileTTL)
	return profile, nil
}

// candidatePool fetches up to Limit×CandidateMultiplier candidates that already
// pass both sides' preferences and were not interacted with recently, so the
// cut never spends slots on profiles the scorer would drop.
func (o *AdaptiveOrchestrator) candidatePool(ctx context.Context, user *models.Profile, opts models.RecommendationOptions, now time.Time) ([]*models.Profile, error) {
	recent, err := o.scorer.RecentTargets(ctx, user.ID, now)
	if err != nil {
		return nil, models.Downstream("load recent interactions", err)
	}
	exclude := make([]uuid.UUID, 0, len(opts.ExcludeIDs)+len(recent))
	exclude = append(exclude, opts.ExcludeIDs...)
	exclude = append(exclude, recent...)

	pool, err := o.profiles.GetCandidates(ctx, models.CandidateFilter{
		UserID:        user.ID,
		ExcludeIDs:    exclude,
		MinAge:        user.Preferences.MinAge,
		MaxAge:        user.Preferences.MaxAge,
		Genders:       user.Preferences.Genders,
		Center:        user.Location,
		MaxDistanceKm: o.scorer.MaxDistanceKm(user),
		SeekerAge:     user.Age,
		SeekerGender:  user.Gender,
		Limit:         opts.Limit * o.cfg.CandidateMultiplier,
	})
	if err != nil {
		return nil, models.Downstream("load candidates", err)
	}

	ids := make([]uuid.UUID, 0, len(pool))
	for _, p := range pool {
		if p != nil {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return pool, nil
	}

	styles, err := o.styles.GetMany(ctx, ids)
	if err != nil {
		o.logger.WithError(err).WithField("user_id", user.ID).Warn("Candidate style profiles unavailable")
		return pool, nil
	}
	for i, p := range pool {
		if p == nil {
			continue
		}
		if sp, ok := styles[p.ID]; ok {
			pool[i] = p.Clone()
			OverlayStyle(pool[i], sp)
		}
	}
	return pool, nil
}

// ContextualWeights perturbs base by the scaled temporal, mood and session
// deltas, then clamps and renormalises.
func ContextualWeights(base models.WeightVector, temporal, mood, session models.Deltas) models.WeightVector {
	out := make(models.WeightVector, len(models.Dimensions))
	for _, d := range models.Dimensions {
		v := base[d] +
			temporal[d]*temporalDeltaScale +
			mood[d]*moodDeltaScale +
			session[d]*sessionDeltaScale
		out[d] = clamp(v, 0, 1)
	}
	return out.Normalized()
}

// SessionDeltas maps the request hints onto per-dimension deltas in [-1,1].
func SessionDeltas(hints models.ContextualHints) models.Deltas {
	deltas := models.Deltas{}
	for d, v := range intentDeltas[hints.SessionIntent] {
		deltas[d] += v
	}
	for d, v := range hints.DimensionBoosts {
		if d.Valid() && finite(v) {
			deltas[d] += v
		}
	}
	for d, v := range deltas {
		deltas[d] = clamp(v, -1, 1)
	}
	return deltas
}

func breakdownVector(b models.ScoreBreakdown) []float64 {
	v := make([]float64, len(models.Dimensions))
	for i, d := range models.Dimensions {
		v[i] = b[d]
	}
	return v
}

func (o *AdaptiveOrchestrator) applyBonuses(score *models.MatchScore, candidate *models.Profile, history []shownEntry, now time.Time) {
	bonuses := map[string]float64{}
	vector := breakdownVector(score.Breakdown)

	seen := false
	for _, h := range history {
		if h.id == score.CandidateID {
			seen = true
			break
		}
	}
	if !seen {
		bonuses["novelty"] = maxBonus
	}

	if len(history) > 0 {
		sum := 0.0
		for _, h := range history {
			sum += cosineSimilarity(vector, h.vector)
		}
		bonuses["diversity"] = maxBonus * (1 - sum/float64(len(history)))
	}

	if candidate != nil {
		bonuses["popularity"] = maxBonus * clamp(candidate.Popularity, 0, 1)

		if candidate.LastActiveAt != nil {
			hours := math.Max(0, now.Sub(*candidate.LastActiveAt).Hours())
			bonuses["recency"] = maxBonus * math.Exp(-hours/recencyHalfLifeHours)
		}

		for _, h := range candidate.ActiveHours {
			if h == now.Hour() {
				bonuses["temporal_fit"] = maxBonus
				break
			}
		}
	}

	total := score.TotalScore
	for k, v := range bonuses {
		v = clamp(v, 0, maxBonus)
		bonuses[k] = v
		total += v
	}
	score.Bonuses = bonuses
	score.AdaptiveScore = total
}

func diversityAgainst(vector []float64, selected []models.MatchScore) float64 {
	if len(selected) == 0 {
		return 1
	}
	sum := 0.0
	for _, s := range selected {
		sum += cosineSimilarity(vector, breakdownVector(s.Breakdown))
	}
	return clamp(1-sum/float64(len(selected)), 0, 1)
}

// diversify greedily picks limit-explore results by adaptive score plus
// diversity, then fills up to explore slots with random picks from the rest.
func (o *AdaptiveOrchestrator) diversify(scored []models.MatchScore, limit, explore int) []models.MatchScore {
	if explore > limit {
		explore = limit
	}
	remaining := append([]models.MatchScore(nil), scored...)
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].AdaptiveScore > remaining[j].AdaptiveScore
	})

	exploit := limit - explore
	selected := make([]models.MatchScore, 0, limit)
	for len(selected) < exploit && len(remaining) > 0 {
		best, bestRank := 0, math.Inf(-1)
		for i := range remaining {
			div := diversityAgainst(breakdownVector(remaining[i].Breakdown), selected)
			rank := remaining[i].AdaptiveScore + div*diversityRankWeight
			if rank > bestRank {
				best, bestRank = i, rank
			}
		}
		pick := remaining[best]
		pick.DiversityScore = diversityAgainst(breakdownVector(pick.Breakdown), selected)
		pick.RankScore = bestRank
		selected = append(selected, pick)
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	// Exploration draws only from what the exploitation pass left behind.
	if explore > 0 && len(remaining) > 0 {
		o.rngMu.Lock()
		o.rng.Shuffle(len(remaining), func(i, j int) {
			remaining[i], remaining[j] = remaining[j], remaining[i]
		})
		o.rngMu.Unlock()

		for i := 0; i < explore && i < len(remaining); i++ {
			pick := remaining[i]
			pick.Exploration = true
			pick.AdaptiveScore *= explorationPenalty
			pick.DiversityScore = diversityAgainst(breakdownVector(pick.Breakdown), selected)
			pick.RankScore = pick.AdaptiveScore + pick.DiversityScore*diversityRankWeight
			selected = append(selected, pick)
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].RankScore > selected[j].RankScore
	})
	for i := range selected {
		selected[i].Position = i + 1
	}
	return selected
}

func (o *AdaptiveOrchestrator) history(userID uuid.UUID) []shownEntry {
	o.shownMu.Lock()
	defer o.shownMu.Unlock()
	return append([]shownEntry(nil), o.shown[userID]...)
}

func (o *AdaptiveOrchestrator) remember(userID uuid.UUID, shown []models.MatchScore) {
	o.shownMu.Lock()
	defer o.shownMu.Unlock()

	entries := o.shown[userID]
	for _, s := range shown {
		entries = append(entries, shownEntry{id: s.CandidateID, vector: breakdownVector(s.Breakdown)})
	}
	if over := len(entries) - o.cfg.ShownHistorySize; over > 0 {
		entries = append([]shownEntry(nil), entries[over:]...)
	}
	o.shown[userID] = entries
}

// InvalidateUser drops every cached view of the user.
func (o *AdaptiveOrchestrator) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	key := userID.String()
	o.weightsCache.Delete(key)
	o.profileCache.Delete(key)
	return o.results.InvalidateUser(ctx, userID)
}

// EvictExpired removes expired cache entries and returns how many were dropped.
func (o *AdaptiveOrchestrator) EvictExpired(ctx context.Context) int {
	return o.weightsCache.EvictExpired() + o.profileCache.EvictExpired() + o.results.EvictExpired(ctx)
}

// paramsHash keys cached results. The time-of-day bucket is part of the key
// because contextual weights depend on it.
func paramsHash(opts models.RecommendationOptions, now time.Time) string {
	key := struct {
		Limit       int                    `json:"limit"`
		ExcludeIDs  []uuid.UUID            `json:"exclude_ids"`
		Exploration bool                   `json:"exploration"`
		Algorithm   models.Algorithm       `json:"algorithm"`
		Hints       models.ContextualHints `json:"hints"`
		Bucket      string                 `json:"bucket"`
		Weekday     int                    `json:"weekday"`
	}{
		Limit:       opts.Limit,
		ExcludeIDs:  opts.ExcludeIDs,
		Exploration: opts.IncludeExploration,
		Algorithm:   opts.Algorithm,
		Hints:       opts.Hints,
		Bucket:      models.TimeOfDay(now),
		Weekday:     int(now.Weekday()),
	}
	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
