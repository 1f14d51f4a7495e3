package services

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/cache"
	"github.com/temcen/affinity/internal/config"
)

// Dependencies are the collaborators the matching core runs against. The app
// package picks the implementations (Postgres, Neo4j, Redis, Kafka or memory).
type Dependencies struct {
	Profiles     ProfileStore
	Interactions InteractionStore
	Images       ImageStore
	Tournaments  TournamentRepository
	Styles       StyleProfileRepository
	Weights      WeightRepository
	Feedback     FeedbackRepository
	Publisher    EventPublisher
	Results      cache.ResultCache
	Backends     BackendChecker
	Augmenter    CollaborativeAugmenter
	Clock        Clock
}

type Services struct {
	Metrics      *Metrics
	Health       *HealthService
	Profiles     *GuardedProfileStore
	Styles       *StyleProfileAggregator
	Tournaments  *TournamentEngine
	Scorer       *CompatibilityScorer
	Weights      *WeightAdjustmentService
	Orchestrator *AdaptiveOrchestrator
	Feedback     *FeedbackProcessor
	Scheduler    *Scheduler
}

func New(cfg *config.Config, logger *logrus.Logger, deps Dependencies) *Services {
	metrics := NewMetrics(logger)

	results := deps.Results
	if results == nil {
		results = cache.NewMemoryResultCache(deps.Clock)
	}

	profiles := NewGuardedProfileStore(deps.Profiles, cfg.Orchestrator.FetchTimeout, logger)
	styles := NewStyleProfileAggregator(deps.Styles, logger)
	tournaments := NewTournamentEngine(cfg.Tournament, deps.Tournaments, deps.Images, styles, metrics, logger, nil, deps.Clock)
	scorer := NewCompatibilityScorer(cfg.Matching, deps.Interactions, deps.Augmenter, metrics, logger)
	weights := NewWeightAdjustmentService(cfg.Learning, deps.Weights, deps.Feedback, deps.Publisher, metrics, logger, deps.Clock)
	orchestrator := NewAdaptiveOrchestrator(cfg.Orchestrator, scorer, weights, profiles, styles, results, metrics, logger, nil, deps.Clock)
	feedback := NewFeedbackProcessor(cfg.Feedback, deps.Feedback, deps.Interactions, profiles, styles, weights, scorer, deps.Publisher, metrics, logger, deps.Clock)
	scheduler := NewScheduler(cfg, tournaments, weights, orchestrator, deps.Feedback, deps.Weights, metrics, logger, deps.Clock)

	return &Services{
		Metrics:      metrics,
		Health:       NewHealthService(deps.Backends, profiles, logger, "postgres"),
		Profiles:     profiles,
		Styles:       styles,
		Tournaments:  tournaments,
		Scorer:       scorer,
		Weights:      weights,
		Orchestrator: orchestrator,
		Feedback:     feedback,
		Scheduler:    scheduler,
	}
}

// Start launches the feedback batch loop and the background sweeps.
func (s *Services) Start() {
	s.Feedback.Start()
	s.Scheduler.Start()
}

// Stop halts background work, draining queued feedback.
func (s *Services) Stop() {
	s.Scheduler.Stop()
	s.Feedback.Stop()
}
