package models

import (
	"time"

	"github.com/google/uuid"
)

type FeedbackAction string

const (
	ActionLike                FeedbackAction = "like"
	ActionSuperLike           FeedbackAction = "super_like"
	ActionMessageSent         FeedbackAction = "message_sent"
	ActionMatchCreated        FeedbackAction = "match_created"
	ActionConversationStarted FeedbackAction = "conversation_started"
	ActionDatePlanned         FeedbackAction = "date_planned"
	ActionDislike             FeedbackAction = "dislike"
	ActionSwipeLeft           FeedbackAction = "swipe_left"
	ActionProfileView         FeedbackAction = "profile_view"
	ActionSkip                FeedbackAction = "skip"
)

type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
	PolarityNeutral  Polarity = "neutral"
)

var actionPolarity = map[FeedbackAction]Polarity{
	ActionLike:                PolarityPositive,
	ActionSuperLike:           PolarityPositive,
	ActionMessageSent:         PolarityPositive,
	ActionMatchCreated:        PolarityPositive,
	ActionConversationStarted: PolarityPositive,
	ActionDatePlanned:         PolarityPositive,
	ActionDislike:             PolarityNegative,
	ActionSwipeLeft:           PolarityNegative,
	ActionProfileView:         PolarityNeutral,
	ActionSkip:                PolarityNeutral,
}

func (a FeedbackAction) Valid() bool {
	_, ok := actionPolarity[a]
	return ok
}

func (a FeedbackAction) Polarity() Polarity {
	if p, ok := actionPolarity[a]; ok {
		return p
	}
	return PolarityNeutral
}

// IsCritical reports whether the action bypasses the batch queue.
func (a FeedbackAction) IsCritical() bool {
	switch a {
	case ActionSuperLike, ActionMatchCreated, ActionConversationStarted, ActionDatePlanned:
		return true
	}
	return false
}

// Learning signal partitions used by weight analysis. Only a subset of the
// positive/negative actions count as accept-like or reject-like.
func (a FeedbackAction) IsAcceptLike() bool {
	switch a {
	case ActionLike, ActionSuperLike, ActionMessageSent, ActionMatchCreated:
		return true
	}
	return false
}

func (a FeedbackAction) IsRejectLike() bool {
	return a == ActionDislike || a == ActionSwipeLeft
}

type FeedbackContext struct {
	Screen     string `json:"screen,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	ViewTimeMs int64  `json:"view_time_ms,omitempty"`
	TimeOfDay  string `json:"time_of_day,omitempty"`
	DayOfWeek  int    `json:"day_of_week"`
	Mood       string `json:"mood,omitempty"`
}

type FeedbackEvent struct {
	ID               uuid.UUID             `json:"id" db:"id"`
	UserID           uuid.UUID             `json:"user_id" db:"user_id"`
	TargetUserID     uuid.UUID             `json:"target_user_id" db:"target_user_id"`
	Action           FeedbackAction        `json:"action" db:"action"`
	Polarity         Polarity              `json:"polarity" db:"polarity"`
	Timestamp        time.Time             `json:"timestamp" db:"timestamp"`
	Context          FeedbackContext       `json:"context" db:"context"`
	MatchScore       float64               `json:"match_score" db:"match_score"`
	WeightsSnapshot  WeightVector          `json:"weights_snapshot,omitempty" db:"weights_snapshot"`
	TargetAttributes map[Dimension]float64 `json:"target_attributes,omitempty" db:"target_attributes"`
}

type WeightAdjustmentRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	Attribute  Dimension `json:"attribute" db:"attribute"`
	OldWeight  float64   `json:"old_weight" db:"old_weight"`
	NewWeight  float64   `json:"new_weight" db:"new_weight"`
	Reason     string    `json:"reason" db:"reason"`
	Confidence float64   `json:"confidence" db:"confidence"`
	SampleSize int       `json:"sample_size" db:"sample_size"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
}

// LearningProfile aggregates how a user's weights have been moving.
type LearningProfile struct {
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	TotalAdjustments int        `json:"total_adjustments" db:"total_adjustments"`
	LearningVelocity float64    `json:"learning_velocity" db:"learning_velocity"` // mean |delta|
	AdaptationRate   float64    `json:"adaptation_rate" db:"adaptation_rate"`
	LastAdjustmentAt *time.Time `json:"last_adjustment_at,omitempty" db:"last_adjustment_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

type DailyFeedbackAggregate struct {
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	Day      time.Time `json:"day" db:"day"`
	Positive int       `json:"positive" db:"positive"`
	Negative int       `json:"negative" db:"negative"`
	Neutral  int       `json:"neutral" db:"neutral"`
}

type FeedbackRequest struct {
	UserID   uuid.UUID       `json:"user_id" validate:"required"`
	TargetID uuid.UUID       `json:"target_id" validate:"required"`
	Action   FeedbackAction  `json:"action" validate:"required"`
	Context  FeedbackContext `json:"context"`
}

type FeedbackResult struct {
	Accepted     bool      `json:"accepted"`
	MatchCreated bool      `json:"match_created"`
	EventID      uuid.UUID `json:"event_id"`
}

// TimeOfDay buckets an hour into the four periods used by temporal analysis.
func TimeOfDay(t time.Time) string {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return "morning"
	case h >= 12 && h < 17:
		return "afternoon"
	case h >= 17 && h < 22:
		return "evening"
	default:
		return "night"
	}
}
