package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/affinity/pkg/models"
)

// MemoryStore keeps every record in process memory. It backs the "memory"
// database driver and serves as the collaborator fake in tests.
type MemoryStore struct {
	mu sync.RWMutex

	profiles     map[uuid.UUID]*models.Profile
	images       map[uuid.UUID]models.Image
	interactions []models.InteractionEvent

	sessions map[uuid.UUID]*models.TournamentSession
	results  map[uuid.UUID]*models.TournamentResult

	styleProfiles map[uuid.UUID]*models.StyleProfile

	weights          map[uuid.UUID]models.WeightVector
	adjustments      map[uuid.UUID][]models.WeightAdjustmentRecord
	learningProfiles map[uuid.UUID]*models.LearningProfile

	feedback   map[uuid.UUID][]models.FeedbackEvent
	aggregates map[string]*models.DailyFeedbackAggregate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:         make(map[uuid.UUID]*models.Profile),
		images:           make(map[uuid.UUID]models.Image),
		sessions:         make(map[uuid.UUID]*models.TournamentSession),
		results:          make(map[uuid.UUID]*models.TournamentResult),
		styleProfiles:    make(map[uuid.UUID]*models.StyleProfile),
		weights:          make(map[uuid.UUID]models.WeightVector),
		adjustments:      make(map[uuid.UUID][]models.WeightAdjustmentRecord),
		learningProfiles: make(map[uuid.UUID]*models.LearningProfile),
		feedback:         make(map[uuid.UUID][]models.FeedbackEvent),
		aggregates:       make(map[string]*models.DailyFeedbackAggregate),
	}
}

// Seeding helpers

func (m *MemoryStore) PutProfile(p *models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p.Clone()
}

func (m *MemoryStore) PutImages(images ...models.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, img := range images {
		m.images[img.ID] = img
	}
}

// Profile store

func (m *MemoryStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (m *MemoryStore) GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := make(map[uuid.UUID]bool, len(filter.ExcludeIDs)+1)
	excluded[filter.UserID] = true
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}
	genders := make(map[string]bool, len(filter.Genders))
	for _, g := range filter.Genders {
		genders[g] = true
	}

	var out []*models.Profile
	for _, p := range m.profiles {
		if excluded[p.ID] {
			continue
		}
		if filter.MinAge > 0 && p.Age < filter.MinAge {
			continue
		}
		if filter.MaxAge > 0 && p.Age > filter.MaxAge {
			continue
		}
		if len(genders) > 0 && !genders[p.Gender] {
			continue
		}
		if filter.MaxDistanceKm > 0 && models.HaversineKm(filter.Center, p.Location) > filter.MaxDistanceKm {
			continue
		}
		if !filter.AcceptsSeeker(p) {
			continue
		}
		out = append(out, p.Clone())
	}

	// Stable order keeps results reproducible.
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Interaction store

func (m *MemoryStore) RecordInteraction(ctx context.Context, event models.InteractionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, event)
	return nil
}

func (m *MemoryStore) HasRecentInteraction(ctx context.Context, userID, targetID uuid.UUID, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.interactions {
		if ev.UserID == userID && ev.TargetID == targetID && ev.Timestamp.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) RecentTargets(ctx context.Context, userID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, ev := range m.interactions {
		if ev.UserID == userID && ev.Timestamp.After(since) && !seen[ev.TargetID] {
			seen[ev.TargetID] = true
			out = append(out, ev.TargetID)
		}
	}
	return out, nil
}

func (m *MemoryStore) HasPositiveInteraction(ctx context.Context, userID, targetID uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.interactions {
		if ev.UserID == userID && ev.TargetID == targetID && ev.Action.Polarity() == models.PolarityPositive {
			return true, nil
		}
	}
	return false, nil
}

// Image store

func (m *MemoryStore) GetImagesByCategory(ctx context.Context, category string) ([]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Image
	for _, img := range m.images {
		if img.Category == category {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *MemoryStore) GetImagesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Image, 0, len(ids))
	for _, id := range ids {
		if img, ok := m.images[id]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

// Tournament repository

func (m *MemoryStore) CreateSession(ctx context.Context, session *models.TournamentSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == session.UserID && s.Category == session.Category && s.Status == models.TournamentActive {
			return models.Concurrencyf("create session", "active session %s already exists", s.ID)
		}
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id uuid.UUID) (*models.TournamentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.NotFoundf("get session", "session %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.TournamentSession
	for _, s := range m.sessions {
		if s.UserID != userID || s.Status != models.TournamentActive {
			continue
		}
		if category != "" && s.Category != category {
			continue
		}
		if found == nil || s.StartedAt.After(found.StartedAt) {
			found = s
		}
	}
	return found.Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session *models.TournamentSession, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sessions[session.ID]
	if !ok {
		return models.NotFoundf("update session", "session %s not found", session.ID)
	}
	if current.Version != expectedVersion {
		return models.Concurrencyf("update session", "session %s is at version %d, expected %d",
			session.ID, current.Version, expectedVersion)
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStore) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]*models.TournamentSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.TournamentSession
	for _, s := range m.sessions {
		if s.Status == models.TournamentActive && s.UpdatedAt.Before(olderThan) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveResult(ctx context.Context, result *models.TournamentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *result
	m.results[result.SessionID] = &r
	return nil
}

// Result returns the stored result of a session, if any.
func (m *MemoryStore) Result(sessionID uuid.UUID) *models.TournamentResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.results[sessionID]
}

// Style profiles

func (m *MemoryStore) GetStyleProfile(ctx context.Context, userID uuid.UUID) (*models.StyleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneStyleProfile(m.styleProfiles[userID]), nil
}

func (m *MemoryStore) GetStyleProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.StyleProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uuid.UUID]*models.StyleProfile)
	for _, id := range userIDs {
		if sp, ok := m.styleProfiles[id]; ok {
			out[id] = cloneStyleProfile(sp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveStyleProfile(ctx context.Context, profile *models.StyleProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.styleProfiles[profile.UserID] = cloneStyleProfile(profile)
	return nil
}

func cloneStyleProfile(sp *models.StyleProfile) *models.StyleProfile {
	if sp == nil {
		return nil
	}
	c := *sp
	c.Categories = make(map[string]models.CategoryPreference, len(sp.Categories))
	for k, v := range sp.Categories {
		v.TopChoices = append([]uuid.UUID(nil), v.TopChoices...)
		c.Categories[k] = v
	}
	return &c
}

// Weights

func (m *MemoryStore) GetWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.weights[userID]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}

func (m *MemoryStore) SaveWeights(ctx context.Context, userID uuid.UUID, weights models.WeightVector, records []models.WeightAdjustmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights[userID] = weights.Clone()
	m.adjustments[userID] = append(m.adjustments[userID], records...)
	return nil
}

func (m *MemoryStore) ListAdjustments(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.WeightAdjustmentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WeightAdjustmentRecord
	for _, r := range m.adjustments[userID] {
		if !r.Timestamp.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetLearningProfile(ctx context.Context, userID uuid.UUID) (*models.LearningProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.learningProfiles[userID]
	if !ok {
		return nil, nil
	}
	c := *lp
	return &c, nil
}

func (m *MemoryStore) SaveLearningProfile(ctx context.Context, profile *models.LearningProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *profile
	m.learningProfiles[profile.UserID] = &c
	return nil
}

// Feedback

func (m *MemoryStore) SaveFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback[event.UserID] = append(m.feedback[event.UserID], *event)
	return nil
}

func (m *MemoryStore) ListFeedbackEvents(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.FeedbackEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FeedbackEvent
	for _, ev := range m.feedback[userID] {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountFeedbackEvents(ctx context.Context, userID uuid.UUID, action models.FeedbackAction, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ev := range m.feedback[userID] {
		if ev.Timestamp.Before(since) {
			continue
		}
		if action == "" || ev.Action == action {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) LastFeedbackEvent(ctx context.Context, userID uuid.UUID) (*models.FeedbackEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.feedback[userID]
	if len(events) == 0 {
		return nil, nil
	}
	last := events[0]
	for _, ev := range events[1:] {
		if ev.Timestamp.After(last.Timestamp) {
			last = ev
		}
	}
	return &last, nil
}

func (m *MemoryStore) UpsertDailyAggregate(ctx context.Context, userID uuid.UUID, day time.Time, positive, negative, neutral int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	day = day.UTC().Truncate(24 * time.Hour)
	key := userID.String() + "|" + day.Format("2006-01-02")
	agg, ok := m.aggregates[key]
	if !ok {
		agg = &models.DailyFeedbackAggregate{UserID: userID, Day: day}
		m.aggregates[key] = agg
	}
	agg.Positive = positive
	agg.Negative = negative
	agg.Neutral = neutral
	return nil
}

// DailyAggregate returns the aggregate row for (user, day), if present.
func (m *MemoryStore) DailyAggregate(userID uuid.UUID, day time.Time) *models.DailyFeedbackAggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day = day.UTC().Truncate(24 * time.Hour)
	agg, ok := m.aggregates[userID.String()+"|"+day.Format("2006-01-02")]
	if !ok {
		return nil
	}
	c := *agg
	return &c
}

func (m *MemoryStore) ActiveUsersSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []uuid.UUID
	for userID, events := range m.feedback {
		for _, ev := range events {
			if !ev.Timestamp.Before(since) {
				out = append(out, userID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
