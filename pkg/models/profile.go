package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type Location struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// PreferenceFilters are the hard constraints a profile places on the people it is shown.
type PreferenceFilters struct {
	MinAge        int      `json:"min_age" db:"min_age"`
	MaxAge        int      `json:"max_age" db:"max_age"`
	MaxDistanceKm float64  `json:"max_distance_km" db:"max_distance_km"`
	Genders       []string `json:"genders,omitempty" db:"genders"`
}

func (f PreferenceFilters) AcceptsAge(age int) bool {
	if f.MinAge > 0 && age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && age > f.MaxAge {
		return false
	}
	return true
}

func (f PreferenceFilters) AcceptsGender(gender string) bool {
	if len(f.Genders) == 0 {
		return true
	}
	for _, g := range f.Genders {
		if g == gender {
			return true
		}
	}
	return false
}

// Profile is the read model of a user or candidate consumed by the scorer.
type Profile struct {
	ID            uuid.UUID              `json:"id" db:"id"`
	Age           int                    `json:"age" db:"age"`
	Gender        string                 `json:"gender" db:"gender"`
	Location      Location               `json:"location" db:"location"`
	Style         map[string][]uuid.UUID `json:"style,omitempty" db:"style"`
	Hobbies       []string               `json:"hobbies,omitempty" db:"hobbies"`
	Personality   []float64              `json:"personality,omitempty" db:"personality"`
	Emotional     []float64              `json:"emotional,omitempty" db:"emotional"`
	ActivityLevel float64                `json:"activity_level" db:"activity_level"` // 0..10
	Preferences   PreferenceFilters      `json:"preferences" db:"preferences"`
	Popularity    float64                `json:"popularity" db:"popularity"` // 0..1
	ActiveHours   []int                  `json:"active_hours,omitempty" db:"active_hours"`
	LastActiveAt  *time.Time             `json:"last_active_at,omitempty" db:"last_active_at"`
}

// Clone copies the profile deeply enough that Style can be overlaid safely.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Style != nil {
		c.Style = make(map[string][]uuid.UUID, len(p.Style))
		for k, v := range p.Style {
			c.Style[k] = append([]uuid.UUID(nil), v...)
		}
	}
	return &c
}

// CandidateFilter is the query handed to the profile store when building a candidate pool.
// SeekerAge and SeekerGender describe the user the pool is built for; candidates
// whose own preferences reject the seeker are left out.
type CandidateFilter struct {
	UserID        uuid.UUID   `json:"user_id"`
	ExcludeIDs    []uuid.UUID `json:"exclude_ids,omitempty"`
	MinAge        int         `json:"min_age"`
	MaxAge        int         `json:"max_age"`
	Genders       []string    `json:"genders,omitempty"`
	Center        Location    `json:"center"`
	MaxDistanceKm float64     `json:"max_distance_km"`
	SeekerAge     int         `json:"seeker_age,omitempty"`
	SeekerGender  string      `json:"seeker_gender,omitempty"`
	Limit         int         `json:"limit"`
}

// AcceptsSeeker reports whether the candidate's own preferences admit the seeker.
func (f CandidateFilter) AcceptsSeeker(candidate *Profile) bool {
	if f.SeekerAge > 0 && !candidate.Preferences.AcceptsAge(f.SeekerAge) {
		return false
	}
	if f.SeekerGender != "" && !candidate.Preferences.AcceptsGender(f.SeekerGender) {
		return false
	}
	return true
}

type InteractionEvent struct {
	UserID    uuid.UUID      `json:"user_id"`
	TargetID  uuid.UUID      `json:"target_id"`
	Action    FeedbackAction `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two points in kilometres.
func HaversineKm(a, b Location) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
