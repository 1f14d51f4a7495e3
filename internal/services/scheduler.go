package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	sweepAdjustment = "adjustment"
	sweepEviction   = "eviction"
	sweepTrends     = "trends"
)

// SweepReport summarises one pass over a set of users.
type SweepReport struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Scheduler runs the periodic background sweeps. Every sweep isolates per-item
// failures: they are logged and counted, and the sweep moves on.
type Scheduler struct {
	cfg          config.OrchestratorConfig
	learning     config.LearningConfig
	staleAfter   time.Duration
	engine       *TournamentEngine
	weights      *WeightAdjustmentService
	orchestrator *AdaptiveOrchestrator
	feedback     FeedbackRepository
	adjustments  WeightRepository
	metrics      *Metrics
	logger       *logrus.Logger
	now          Clock

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler(
	cfg *config.Config,
	engine *TournamentEngine,
	weights *WeightAdjustmentService,
	orchestrator *AdaptiveOrchestrator,
	feedback FeedbackRepository,
	adjustments WeightRepository,
	metrics *Metrics,
	logger *logrus.Logger,
	now Clock,
) *Scheduler {
	if now == nil {
		now = time.Now
	}
	orch := cfg.Orchestrator
	if orch.SweepWorkers <= 0 {
		orch.SweepWorkers = 4
	}
	return &Scheduler{
		cfg:          orch,
		learning:     cfg.Learning,
		staleAfter:   cfg.Tournament.StaleAfter,
		engine:       engine,
		weights:      weights,
		orchestrator: orchestrator,
		feedback:     feedback,
		adjustments:  adjustments,
		metrics:      metrics,
		logger:       logger,
		now:          now,
	}
}

// Start launches one goroutine per sweep. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true

	s.loop(sweepAdjustment, s.cfg.AdjustmentInterval, func(ctx context.Context) {
		if _, err := s.RunAdjustmentSweep(ctx); err != nil {
			s.logger.WithError(err).Error("Adjustment sweep failed")
		}
	})
	s.loop(sweepEviction, s.cfg.EvictionInterval, func(ctx context.Context) {
		if _, err := s.RunEvictionSweep(ctx); err != nil {
			s.logger.WithError(err).Error("Eviction sweep failed")
		}
	})
	s.loop(sweepTrends, s.cfg.TrendInterval, func(ctx context.Context) {
		if _, err := s.RunTrendSweep(ctx); err != nil {
			s.logger.WithError(err).Error("Trend sweep failed")
		}
	})

	s.logger.Info("Background sweeps started")
}

func (s *Scheduler) loop(name string, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 {
		s.logger.WithField("sweep", name).Warn("Sweep disabled: non-positive interval")
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				run(ctx)
				s.metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
		}
	}()
}

// Stop cancels the sweeps and waits for in-flight items to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Background sweeps stopped")
}

// RunAdjustmentSweep applies automatic adjustments to recently active users
// with a bounded worker pool.
func (s *Scheduler) RunAdjustmentSweep(ctx context.Context) (SweepReport, error) {
	users, err := s.feedback.ActiveUsersSince(ctx, s.now().Add(-s.cfg.ActiveUserWindow))
	if err != nil {
		return SweepReport{}, models.Downstream("list active users", err)
	}

	var (
		mu     sync.Mutex
		report SweepReport
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.SweepWorkers)

	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := s.weights.ApplyAutomaticAdjustments(ctx, userID)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			if err != nil {
				report.Failed++
				s.metrics.SweepItemFailures.WithLabelValues(sweepAdjustment).Inc()
				s.logger.WithError(err).WithField("user_id", userID).Warn("Automatic adjustment failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.WithFields(logrus.Fields{
		"users":  report.Processed,
		"failed": report.Failed,
	}).Debug("Adjustment sweep finished")
	return report, nil
}

// RunEvictionSweep drops expired cache entries and abandons tournaments that
// have not moved for longer than the stale threshold.
func (s *Scheduler) RunEvictionSweep(ctx context.Context) (SweepReport, error) {
	evicted := s.orchestrator.EvictExpired(ctx)

	report := SweepReport{}
	if s.staleAfter > 0 {
		abandoned, err := s.engine.AbandonStaleSessions(ctx, s.now().Add(-s.staleAfter))
		report.Processed = abandoned
		if err != nil {
			report.Failed++
			s.metrics.SweepItemFailures.WithLabelValues(sweepEviction).Inc()
			s.logger.WithError(err).Warn("Stale session cleanup incomplete")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"evicted":   evicted,
		"abandoned": report.Processed,
	}).Debug("Eviction sweep finished")
	return report, nil
}

// RunTrendSweep averages the applied weight change per dimension across users
// active in the analysis window and publishes it as a gauge.
func (s *Scheduler) RunTrendSweep(ctx context.Context) (map[models.Dimension]float64, error) {
	since := s.now().Add(-s.learning.AnalysisWindow)
	users, err := s.feedback.ActiveUsersSince(ctx, since)
	if err != nil {
		return nil, models.Downstream("list active users", err)
	}

	changes := make(map[models.Dimension][]float64)
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		records, err := s.adjustments.ListAdjustments(ctx, userID, since)
		if err != nil {
			s.metrics.SweepItemFailures.WithLabelValues(sweepTrends).Inc()
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to load adjustments")
			continue
		}
		for _, r := range records {
			changes[r.Attribute] = append(changes[r.Attribute], r.NewWeight-r.OldWeight)
		}
	}

	trends := make(map[models.Dimension]float64, len(models.Dimensions))
	for _, d := range models.Dimensions {
		mean := 0.0
		if len(changes[d]) > 0 {
			mean = stat.Mean(changes[d], nil)
		}
		trends[d] = mean
		s.metrics.GlobalTrend.WithLabelValues(string(d)).Set(mean)
	}

	s.logger.WithFields(logrus.Fields{
		"users":  len(users),
		"trends": trends,
	}).Info("Global trend sweep finished")
	return trends, nil
}
