package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Metrics groups the Prometheus collectors of the matching core.
type Metrics struct {
	TournamentsStarted   *prometheus.CounterVec
	TournamentsCompleted *prometheus.CounterVec
	ChoicesRejected      *prometheus.CounterVec
	ScoringLatency       *prometheus.HistogramVec
	CandidatesScored     prometheus.Counter
	CandidatesSkipped    *prometheus.CounterVec
	AdjustmentsApplied   *prometheus.CounterVec
	SweepItemFailures    *prometheus.CounterVec
	SweepDuration        *prometheus.HistogramVec
	FeedbackEvents       *prometheus.CounterVec
	CacheRequests        *prometheus.CounterVec
	GlobalTrend          *prometheus.GaugeVec
}

// register adds c to the default registry. If an identical collector is
// already registered, the existing one is returned instead.
func register[C prometheus.Collector](logger *logrus.Logger, name string, c C) C {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
			return c
		}
		logger.WithError(err).Warnf("Failed to register %s metric", name)
	}
	return c
}

func NewMetrics(logger *logrus.Logger) *Metrics {
	return &Metrics{
		TournamentsStarted: register(logger, "tournaments_started_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_tournaments_started_total",
			Help: "Tournaments started per category",
		}, []string{"category"})),
		TournamentsCompleted: register(logger, "tournaments_completed_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_tournaments_completed_total",
			Help: "Tournaments finished per category and final status",
		}, []string{"category", "status"})),
		ChoicesRejected: register(logger, "choices_rejected_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_tournament_choices_rejected_total",
			Help: "Tournament choices rejected by reason",
		}, []string{"reason"})),
		ScoringLatency: register(logger, "scoring_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "affinity_scoring_duration_seconds",
			Help:    "Time spent scoring a candidate pool",
			Buckets: prometheus.DefBuckets,
		}, []string{"algorithm"})),
		CandidatesScored: register(logger, "candidates_scored_total", prometheus.NewCounter(prometheus.CounterOpts{
			Name: "affinity_candidates_scored_total",
			Help: "Candidates that passed the pre-filter and were scored",
		})),
		CandidatesSkipped: register(logger, "candidates_skipped_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_candidates_skipped_total",
			Help: "Candidates dropped before scoring, by reason",
		}, []string{"reason"})),
		AdjustmentsApplied: register(logger, "weight_adjustments_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_weight_adjustments_total",
			Help: "Weight adjustments persisted per dimension",
		}, []string{"dimension", "reason"})),
		SweepItemFailures: register(logger, "sweep_item_failures_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_sweep_item_failures_total",
			Help: "Per-item failures inside background sweeps",
		}, []string{"sweep"})),
		SweepDuration: register(logger, "sweep_duration_seconds", prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "affinity_sweep_duration_seconds",
			Help:    "Duration of background sweeps",
			Buckets: prometheus.DefBuckets,
		}, []string{"sweep"})),
		FeedbackEvents: register(logger, "feedback_events_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_feedback_events_total",
			Help: "Feedback events accepted by action",
		}, []string{"action"})),
		CacheRequests: register(logger, "cache_requests_total", prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "affinity_cache_requests_total",
			Help: "Orchestrator cache lookups by cache and outcome",
		}, []string{"cache", "outcome"})),
		GlobalTrend: register(logger, "global_trend", prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "affinity_global_weight_trend",
			Help: "Mean applied weight delta per dimension over the trend window",
		}, []string{"dimension"})),
	}
}
