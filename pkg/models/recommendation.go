package models

import (
	"time"

	"github.com/google/uuid"
)

type Algorithm string

const (
	AlgorithmHybrid        Algorithm = "hybrid"
	AlgorithmContent       Algorithm = "content"
	AlgorithmCollaborative Algorithm = "collaborative"
)

func (a Algorithm) Valid() bool {
	return a == AlgorithmHybrid || a == AlgorithmContent || a == AlgorithmCollaborative
}

// ScoreBreakdown holds the per-dimension sub-scores, each in [0,1].
type ScoreBreakdown map[Dimension]float64

type MatchScore struct {
	CandidateID    uuid.UUID          `json:"candidate_id"`
	TotalScore     float64            `json:"total_score"`
	Breakdown      ScoreBreakdown     `json:"breakdown"`
	Explanations   []string           `json:"explanations,omitempty"`
	Confidence     float64            `json:"confidence"`
	AdaptiveScore  float64            `json:"adaptive_score"`
	Bonuses        map[string]float64 `json:"bonuses,omitempty"`
	DiversityScore float64            `json:"diversity_score"`
	RankScore      float64            `json:"rank_score"`
	Exploration    bool               `json:"exploration"`
	Position       int                `json:"position"`
}

type ScoreOptions struct {
	Algorithm Algorithm
	MinScore  float64
	Limit     int
	Now       time.Time
}

type ContextualHints struct {
	Mood            string                `json:"mood,omitempty"`
	SessionIntent   string                `json:"session_intent,omitempty"`
	DimensionBoosts map[Dimension]float64 `json:"dimension_boosts,omitempty"`
}

type RecommendationOptions struct {
	Limit              int             `json:"limit" validate:"min=1,max=100"`
	ExcludeIDs         []uuid.UUID     `json:"exclude_ids,omitempty"`
	IncludeExploration bool            `json:"include_exploration"`
	ForceRefresh       bool            `json:"force_refresh"`
	Algorithm          Algorithm       `json:"algorithm,omitempty"`
	Hints              ContextualHints `json:"hints"`
}

type RecommendationResult struct {
	UserID            uuid.UUID    `json:"user_id"`
	Recommendations   []MatchScore `json:"recommendations"`
	ContextualWeights WeightVector `json:"contextual_weights"`
	CandidatePool     int          `json:"candidate_pool"`
	CacheHit          bool         `json:"cache_hit"`
	GeneratedAt       time.Time    `json:"generated_at"`
}
