package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Dimension is one axis of compatibility scoring.
type Dimension string

const (
	DimensionStyle       Dimension = "style"
	DimensionEmotional   Dimension = "emotional"
	DimensionHobby       Dimension = "hobby"
	DimensionLocation    Dimension = "location"
	DimensionPersonality Dimension = "personality"
)

// Dimensions lists every weighted dimension in a stable order.
var Dimensions = []Dimension{
	DimensionStyle,
	DimensionEmotional,
	DimensionHobby,
	DimensionLocation,
	DimensionPersonality,
}

func (d Dimension) Valid() bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

const WeightSumTolerance = 1e-6

// WeightVector maps each dimension to its relative importance.
type WeightVector map[Dimension]float64

func DefaultWeights() WeightVector {
	return WeightVector{
		DimensionStyle:       0.25,
		DimensionEmotional:   0.20,
		DimensionHobby:       0.20,
		DimensionLocation:    0.15,
		DimensionPersonality: 0.20,
	}
}

func (w WeightVector) Clone() WeightVector {
	c := make(WeightVector, len(w))
	for k, v := range w {
		c[k] = v
	}
	return c
}

func (w WeightVector) Sum() float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

// Normalized returns a copy covering every dimension, clamped to [0,1] and
// scaled to sum to 1. A vector with no positive mass falls back to the defaults.
func (w WeightVector) Normalized() WeightVector {
	out := make(WeightVector, len(Dimensions))
	sum := 0.0
	for _, d := range Dimensions {
		v := w[d]
		if math.IsNaN(v) || v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		out[d] = v
		sum += v
	}
	if sum <= 0 {
		return DefaultWeights()
	}
	for d := range out {
		out[d] /= sum
	}
	return out
}

func (w WeightVector) IsNormalized() bool {
	for _, v := range w {
		if v < 0 {
			return false
		}
	}
	return math.Abs(w.Sum()-1) <= WeightSumTolerance
}

// Validate checks dimension names and the [0,1] range of every entry.
func (w WeightVector) Validate() error {
	for d, v := range w {
		if !d.Valid() {
			return Validationf("weights", "unknown dimension %q", d)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Validationf("weights", "weight for %s must be within [0,1], got %s", d, formatWeight(v))
		}
	}
	return nil
}

func formatWeight(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// Deltas are signed per-dimension nudges. They are never persisted as weights.
type Deltas map[Dimension]float64

const (
	TrendIncrease = "increase"
	TrendDecrease = "decrease"
)

// AttributeTrend compares the mean attribute value of accepted and rejected candidates.
type AttributeTrend struct {
	Attribute    Dimension `json:"attribute"`
	Direction    string    `json:"direction"`
	PositiveMean float64   `json:"positive_mean"`
	NegativeMean float64   `json:"negative_mean"`
	Difference   float64   `json:"difference"`
	Confidence   float64   `json:"confidence"`
}

func (t AttributeTrend) Sign() float64 {
	if t.Direction == TrendDecrease {
		return -1
	}
	return 1
}

type WeightDelta struct {
	Attribute  Dimension `json:"attribute"`
	OldWeight  float64   `json:"old_weight"`
	NewWeight  float64   `json:"new_weight"`
	Delta      float64   `json:"delta"`
	Confidence float64   `json:"confidence"`
}

// Reasons attached to suggestions, runs and adjustment records.
const (
	ReasonInsufficientData = "insufficient_data"
	ReasonNoTrends         = "no_significant_trends"
	ReasonLowConfidence    = "below_confidence_threshold"
	ReasonTrendsDetected   = "trends_detected"
	ReasonAutomatic        = "automatic_trend"
	ReasonManual           = "manual"
	ReasonAlreadyRunning   = "adjustment_in_progress"
)

type AdjustmentSuggestion struct {
	UserID      uuid.UUID        `json:"user_id"`
	SampleSize  int              `json:"sample_size"`
	Trends      []AttributeTrend `json:"trends"`
	Adjustments []WeightDelta    `json:"adjustments"`
	Reason      string           `json:"reason"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// AdjustmentRun reports one automatic adjustment attempt.
type AdjustmentRun struct {
	UserID  uuid.UUID                `json:"user_id"`
	Skipped bool                     `json:"skipped"`
	Reason  string                   `json:"reason"`
	Applied []WeightAdjustmentRecord `json:"applied"`
	Weights WeightVector             `json:"weights,omitempty"`
}

type TemporalPattern struct {
	TimeOfDay string `json:"time_of_day"`
	DayOfWeek int    `json:"day_of_week"`
	Samples   int    `json:"samples"`
	Deltas    Deltas `json:"deltas"`
}

type MoodCorrelation struct {
	Mood    string `json:"mood"`
	Samples int    `json:"samples"`
	Deltas  Deltas `json:"deltas"`
}
