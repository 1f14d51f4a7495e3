package services

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/cache"
	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/internal/database"
	"github.com/temcen/affinity/pkg/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// testEnv wires every service against one MemoryStore.
type testEnv struct {
	cfg     *config.Config
	store   *database.MemoryStore
	clock   *testClock
	metrics *Metrics
	logger  *logrus.Logger

	styles       *StyleProfileAggregator
	engine       *TournamentEngine
	scorer       *CompatibilityScorer
	weights      *WeightAdjustmentService
	orchestrator *AdaptiveOrchestrator
	feedback     *FeedbackProcessor
	scheduler    *Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	store := database.NewMemoryStore()
	clock := newTestClock()
	logger := testLogger()
	metrics := NewMetrics(logger)

	env := &testEnv{cfg: cfg, store: store, clock: clock, metrics: metrics, logger: logger}
	env.styles = NewStyleProfileAggregator(store, logger)
	env.engine = NewTournamentEngine(cfg.Tournament, store, store, env.styles, metrics, logger, rand.New(rand.NewSource(7)), clock.Now)
	env.scorer = NewCompatibilityScorer(cfg.Matching, store, nil, metrics, logger)
	env.weights = NewWeightAdjustmentService(cfg.Learning, store, store, nil, metrics, logger, clock.Now)
	env.orchestrator = NewAdaptiveOrchestrator(cfg.Orchestrator, env.scorer, env.weights, store, env.styles,
		cache.NewMemoryResultCache(clock.Now), metrics, logger, rand.New(rand.NewSource(11)), clock.Now)
	env.feedback = NewFeedbackProcessor(cfg.Feedback, store, store, store, env.styles, env.weights, env.scorer, nil, metrics, logger, clock.Now)
	env.scheduler = NewScheduler(cfg, env.engine, env.weights, env.orchestrator, store, store, metrics, logger, clock.Now)
	return env
}

func seedImages(store *database.MemoryStore, category string, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = uuid.New()
		store.PutImages(models.Image{ID: ids[i], Category: category, URL: "https://img.example/" + ids[i].String(), Active: true})
	}
	return ids
}

func baseProfile(age int, gender string) *models.Profile {
	return &models.Profile{
		ID:            uuid.New(),
		Age:           age,
		Gender:        gender,
		Location:      models.Location{Lat: 52.52, Lng: 13.405},
		Hobbies:       []string{"climbing", "jazz", "cooking"},
		Personality:   []float64{0.8, 0.2, 0.6, 0.4, 0.7},
		Emotional:     []float64{0.5, 0.9, 0.3},
		ActivityLevel: 6,
		Style: map[string][]uuid.UUID{
			"footwear": {uuid.MustParse("00000000-0000-0000-0000-000000000001")},
		},
	}
}

// twin copies p under a new id.
func twin(p *models.Profile) *models.Profile {
	c := p.Clone()
	c.ID = uuid.New()
	return c
}
