package models

import (
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentActive    TournamentStatus = "active"
	TournamentCompleted TournamentStatus = "completed"
	TournamentAbandoned TournamentStatus = "abandoned"
)

type Image struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Category  string    `json:"category" db:"category"`
	URL       string    `json:"url" db:"url"`
	Tags      []string  `json:"tags,omitempty" db:"tags"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Matchup is the pair currently presented to the user. Sequence increases by one
// with every accepted choice and lets clients detect a stale view.
type Matchup struct {
	Left        uuid.UUID `json:"left"`
	Right       uuid.UUID `json:"right"`
	Sequence    int       `json:"sequence"`
	PresentedAt time.Time `json:"presented_at"`
}

func (m Matchup) Contains(id uuid.UUID) bool {
	return m.Left == id || m.Right == id
}

// Opponent returns the other image of the pair.
func (m Matchup) Opponent(id uuid.UUID) uuid.UUID {
	if m.Left == id {
		return m.Right
	}
	return m.Left
}

type TournamentSession struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	Category         string           `json:"category" db:"category"`
	Status           TournamentStatus `json:"status" db:"status"`
	CurrentRound     int              `json:"current_round" db:"current_round"`
	TotalRounds      int              `json:"total_rounds" db:"total_rounds"`
	RemainingImages  []uuid.UUID      `json:"remaining_images" db:"remaining_images"`
	EliminatedImages []uuid.UUID      `json:"eliminated_images" db:"eliminated_images"` // most recent first
	CurrentMatchup   *Matchup         `json:"current_matchup,omitempty" db:"current_matchup"`

	// Bracket state: entrants of the running round in pairing order and the
	// winners collected so far in that round.
	RoundEntrants []uuid.UUID `json:"round_entrants" db:"round_entrants"`
	RoundWinners  []uuid.UUID `json:"round_winners" db:"round_winners"`

	ChoiceLatenciesMs []int64    `json:"choice_latencies_ms,omitempty" db:"choice_latencies_ms"`
	Version           int        `json:"version" db:"version"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *TournamentSession) Clone() *TournamentSession {
	if s == nil {
		return nil
	}
	c := *s
	c.RemainingImages = append([]uuid.UUID(nil), s.RemainingImages...)
	c.EliminatedImages = append([]uuid.UUID(nil), s.EliminatedImages...)
	c.RoundEntrants = append([]uuid.UUID(nil), s.RoundEntrants...)
	c.RoundWinners = append([]uuid.UUID(nil), s.RoundWinners...)
	c.ChoiceLatenciesMs = append([]int64(nil), s.ChoiceLatenciesMs...)
	if s.CurrentMatchup != nil {
		m := *s.CurrentMatchup
		c.CurrentMatchup = &m
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

type TournamentResult struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	SessionID          uuid.UUID   `json:"session_id" db:"session_id"`
	UserID             uuid.UUID   `json:"user_id" db:"user_id"`
	Category           string      `json:"category" db:"category"`
	Champion           uuid.UUID   `json:"champion" db:"champion"`
	Finalist           uuid.UUID   `json:"finalist" db:"finalist"`
	TopChoices         []uuid.UUID `json:"top_choices" db:"top_choices"`
	EliminationOrder   []uuid.UUID `json:"elimination_order" db:"elimination_order"` // first eliminated first
	PreferenceStrength float64     `json:"preference_strength" db:"preference_strength"`
	AvgChoiceLatencyMs float64     `json:"avg_choice_latency_ms" db:"avg_choice_latency_ms"`
	RoundsPlayed       int         `json:"rounds_played" db:"rounds_played"`
	CompletedAt        time.Time   `json:"completed_at" db:"completed_at"`
}

type ChoiceRequest struct {
	SessionID uuid.UUID `json:"session_id" validate:"required"`
	WinnerID  uuid.UUID `json:"winner_id" validate:"required"`
	// Sequence of the matchup the choice was made on.
	Sequence int `json:"sequence" validate:"required,min=1"`
}

// ChoiceOutcome holds the advanced session and, once the bracket is resolved, the result.
type ChoiceOutcome struct {
	Session *TournamentSession `json:"session"`
	Result  *TournamentResult  `json:"result,omitempty"`
}

type CategoryPreference struct {
	Champion           uuid.UUID   `json:"champion"`
	Finalist           uuid.UUID   `json:"finalist"`
	TopChoices         []uuid.UUID `json:"top_choices"`
	PreferenceStrength float64     `json:"preference_strength"`
	LastUpdated        time.Time   `json:"last_updated"`
}

type StyleProfile struct {
	UserID     uuid.UUID                     `json:"user_id" db:"user_id"`
	Categories map[string]CategoryPreference `json:"categories" db:"categories"`
	UpdatedAt  time.Time                     `json:"updated_at" db:"updated_at"`
}
