package services

import (
	"context"
	"errors"
	"hash/fnv"
	"math/bits"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

const (
	sessionLockStripes  = 64
	maxTopChoices       = 6
	fastChoiceMs        = 2000.0
	choiceLatencySpanMs = 8000.0
	minPreference       = 0.1
)

// TournamentEngine runs single-elimination image tournaments. Each session
// holds an explicit bracket: the entrants of the running round are paired
// (0,1), (2,3), ... and winners advance, so the loser of the final matchup is
// the runner-up.
type TournamentEngine struct {
	cfg        config.TournamentConfig
	sessions   TournamentRepository
	images     ImageStore
	aggregator *StyleProfileAggregator
	metrics    *Metrics
	logger     *logrus.Logger
	now        Clock

	categories map[string]bool

	rngMu sync.Mutex
	rng   *rand.Rand

	locks [sessionLockStripes]sync.Mutex
}

func NewTournamentEngine(
	cfg config.TournamentConfig,
	sessions TournamentRepository,
	images ImageStore,
	aggregator *StyleProfileAggregator,
	metrics *Metrics,
	logger *logrus.Logger,
	rng *rand.Rand,
	now Clock,
) *TournamentEngine {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		seed := cfg.RandomSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}

	e := &TournamentEngine{
		cfg:        cfg,
		sessions:   sessions,
		images:     images,
		aggregator: aggregator,
		metrics:    metrics,
		logger:     logger,
		now:        now,
		categories: make(map[string]bool, len(cfg.Categories)),
		rng:        rng,
	}
	for _, c := range cfg.Categories {
		e.categories[e.NormalizeCategory(c)] = true
	}
	return e
}

// NormalizeCategory trims, NFC-normalises and case-folds a category key.
func (e *TournamentEngine) NormalizeCategory(category string) string {
	// Casers carry state, so each call gets its own.
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(category)))
}

func (e *TournamentEngine) lockFor(sessionID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(sessionID[:])
	return &e.locks[h.Sum32()%sessionLockStripes]
}

// StartTournament opens a session for (user, category). An already active
// session for the pair is returned as is.
func (e *TournamentEngine) StartTournament(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	const op = "start tournament"

	if userID == uuid.Nil {
		return nil, models.Validationf(op, "user id is required")
	}
	cat := e.NormalizeCategory(category)
	if !e.categories[cat] {
		return nil, models.Validationf(op, "unknown category %q", category)
	}

	existing, err := e.sessions.FindActiveSession(ctx, userID, cat)
	if err != nil {
		return nil, models.Downstream(op, err)
	}
	if existing != nil {
		e.logger.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": existing.ID,
			"category":   cat,
		}).Debug("Resuming active tournament")
		return existing, nil
	}

	images, err := e.images.GetImagesByCategory(ctx, cat)
	if err != nil {
		return nil, models.Downstream(op, err)
	}

	pool := make([]uuid.UUID, 0, len(images))
	seen := make(map[uuid.UUID]bool, len(images))
	for _, img := range images {
		if img.Active && !seen[img.ID] {
			seen[img.ID] = true
			pool = append(pool, img.ID)
		}
	}
	if len(pool) < e.cfg.MinImages {
		return nil, models.Validationf(op, "category %s has %d active images, at least %d required", cat, len(pool), e.cfg.MinImages)
	}

	pool = e.bracketPool(pool)
	now := e.now()

	session := &models.TournamentSession{
		ID:               uuid.New(),
		UserID:           userID,
		Category:         cat,
		Status:           models.TournamentActive,
		CurrentRound:     1,
		TotalRounds:      bits.Len(uint(len(pool))) - 1,
		RemainingImages:  append([]uuid.UUID(nil), pool...),
		EliminatedImages: []uuid.UUID{},
		RoundEntrants:    pool,
		RoundWinners:     []uuid.UUID{},
		CurrentMatchup: &models.Matchup{
			Left:        pool[0],
			Right:       pool[1],
			Sequence:    1,
			PresentedAt: now,
		},
		Version:   1,
		StartedAt: now,
		UpdatedAt: now,
	}

	if err := e.sessions.CreateSession(ctx, session); err != nil {
		if errors.Is(err, models.ErrConcurrency) {
			// Lost a start race; hand back the winner's session.
			if winner, findErr := e.sessions.FindActiveSession(ctx, userID, cat); findErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, models.Downstream(op, err)
	}

	e.metrics.TournamentsStarted.WithLabelValues(cat).Inc()
	e.logger.WithFields(logrus.Fields{
		"user_id":      userID,
		"session_id":   session.ID,
		"category":     cat,
		"pool_size":    len(pool),
		"total_rounds": session.TotalRounds,
	}).Info("Tournament started")

	return session, nil
}

// bracketPool shuffles the pool, caps it at MaxPool and trims it to the
// largest power of two so every round halves cleanly.
func (e *TournamentEngine) bracketPool(pool []uuid.UUID) []uuid.UUID {
	e.rngMu.Lock()
	e.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	e.rngMu.Unlock()

	size := len(pool)
	if e.cfg.MaxPool > 0 && size > e.cfg.MaxPool {
		size = e.cfg.MaxPool
	}
	size = 1 << (bits.Len(uint(size)) - 1)
	return pool[:size]
}

// ProcessChoice records the winner of the current matchup. Every choice must
// name the matchup sequence it was made on. Choices on a finished session, or
// carrying a stale sequence, are rejected with models.ErrConcurrency and leave
// the session untouched.
func (e *TournamentEngine) ProcessChoice(ctx context.Context, req models.ChoiceRequest) (*models.ChoiceOutcome, error) {
	const op = "process choice"

	mu := e.lockFor(req.SessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := e.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, models.Downstream(op, err)
	}

	if session.Status != models.TournamentActive || session.CurrentMatchup == nil {
		e.metrics.ChoicesRejected.WithLabelValues("inactive").Inc()
		return nil, models.Concurrencyf(op, "session %s is %s", session.ID, session.Status)
	}
	matchup := *session.CurrentMatchup
	if req.Sequence < 1 {
		e.metrics.ChoicesRejected.WithLabelValues("missing_sequence").Inc()
		return nil, models.Validationf(op, "choice must name the matchup sequence")
	}
	if req.Sequence != matchup.Sequence {
		e.metrics.ChoicesRejected.WithLabelValues("stale").Inc()
		return nil, models.Concurrencyf(op, "choice for matchup %d but session is at matchup %d", req.Sequence, matchup.Sequence)
	}
	if !matchup.Contains(req.WinnerID) {
		e.metrics.ChoicesRejected.WithLabelValues("not_in_matchup").Inc()
		return nil, models.Validationf(op, "image %s is not part of the current matchup", req.WinnerID)
	}

	now := e.now()
	expected := session.Version
	next := session.Clone()
	loser := matchup.Opponent(req.WinnerID)

	next.RemainingImages = removeID(next.RemainingImages, loser)
	next.EliminatedImages = append([]uuid.UUID{loser}, next.EliminatedImages...)
	next.RoundWinners = append(next.RoundWinners, req.WinnerID)
	if !matchup.PresentedAt.IsZero() {
		latency := now.Sub(matchup.PresentedAt).Milliseconds()
		if latency < 0 {
			latency = 0
		}
		next.ChoiceLatenciesMs = append(next.ChoiceLatenciesMs, latency)
	}
	next.Version = expected + 1
	next.UpdatedAt = now

	var result *models.TournamentResult
	pairIndex := len(next.RoundWinners)
	switch {
	case 2*pairIndex+1 < len(next.RoundEntrants):
		next.CurrentMatchup = &models.Matchup{
			Left:        next.RoundEntrants[2*pairIndex],
			Right:       next.RoundEntrants[2*pairIndex+1],
			Sequence:    matchup.Sequence + 1,
			PresentedAt: now,
		}
	case len(next.RoundWinners) > 1:
		next.RoundEntrants = next.RoundWinners
		next.RoundWinners = []uuid.UUID{}
		next.CurrentRound++
		next.CurrentMatchup = &models.Matchup{
			Left:        next.RoundEntrants[0],
			Right:       next.RoundEntrants[1],
			Sequence:    matchup.Sequence + 1,
			PresentedAt: now,
		}
	default:
		next.Status = models.TournamentCompleted
		next.CurrentMatchup = nil
		next.CompletedAt = &now
		result = buildResult(next, now)
	}

	if err := e.sessions.UpdateSession(ctx, next, expected); err != nil {
		if errors.Is(err, models.ErrConcurrency) {
			e.metrics.ChoicesRejected.WithLabelValues("version").Inc()
		}
		return nil, models.Downstream(op, err)
	}

	if result != nil {
		if err := e.complete(ctx, next, result); err != nil {
			return nil, err
		}
	}

	return &models.ChoiceOutcome{Session: next, Result: result}, nil
}

func (e *TournamentEngine) complete(ctx context.Context, session *models.TournamentSession, result *models.TournamentResult) error {
	const op = "complete tournament"

	if err := e.sessions.SaveResult(ctx, result); err != nil {
		e.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to persist tournament result")
		return models.Downstream(op, err)
	}
	if e.aggregator != nil {
		if _, err := e.aggregator.Apply(ctx, result); err != nil {
			e.logger.WithError(err).WithField("session_id", session.ID).Error("Failed to update style profile")
			return models.Downstream(op, err)
		}
	}

	e.metrics.TournamentsCompleted.WithLabelValues(session.Category, string(models.TournamentCompleted)).Inc()
	e.logger.WithFields(logrus.Fields{
		"user_id":             session.UserID,
		"session_id":          session.ID,
		"category":            session.Category,
		"champion":            result.Champion,
		"preference_strength": result.PreferenceStrength,
	}).Info("Tournament completed")
	return nil
}

func buildResult(session *models.TournamentSession, now time.Time) *models.TournamentResult {
	champion := session.RemainingImages[0]
	eliminated := session.EliminatedImages

	top := []uuid.UUID{champion}
	for i := 0; i < len(eliminated) && len(top) < maxTopChoices; i++ {
		top = append(top, eliminated[i])
	}

	order := make([]uuid.UUID, len(eliminated))
	for i, id := range eliminated {
		order[len(eliminated)-1-i] = id
	}

	avg := meanLatency(session.ChoiceLatenciesMs)
	return &models.TournamentResult{
		ID:                 uuid.New(),
		SessionID:          session.ID,
		UserID:             session.UserID,
		Category:           session.Category,
		Champion:           champion,
		Finalist:           eliminated[0],
		TopChoices:         top,
		EliminationOrder:   order,
		PreferenceStrength: PreferenceStrength(avg),
		AvgChoiceLatencyMs: avg,
		RoundsPlayed:       session.CurrentRound,
		CompletedAt:        now,
	}
}

// PreferenceStrength maps the mean choice latency to [0.1, 1]: two seconds or
// faster is full strength, ten seconds or slower is the floor.
func PreferenceStrength(avgLatencyMs float64) float64 {
	return clamp(1-(avgLatencyMs-fastChoiceMs)/choiceLatencySpanMs, minPreference, 1)
}

func meanLatency(latencies []int64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return float64(sum) / float64(len(latencies))
}

func (e *TournamentEngine) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.TournamentSession, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, models.Downstream("get session", err)
	}
	return session, nil
}

// GetActiveSession returns the user's active session, or nil. An empty
// category matches any category.
func (e *TournamentEngine) GetActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	if category != "" {
		category = e.NormalizeCategory(category)
	}
	session, err := e.sessions.FindActiveSession(ctx, userID, category)
	if err != nil {
		return nil, models.Downstream("get active session", err)
	}
	return session, nil
}

func (e *TournamentEngine) AbandonTournament(ctx context.Context, sessionID uuid.UUID) (*models.TournamentSession, error) {
	const op = "abandon tournament"

	mu := e.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, models.Downstream(op, err)
	}
	if session.Status != models.TournamentActive {
		return nil, models.Concurrencyf(op, "session %s is %s", session.ID, session.Status)
	}

	now := e.now()
	expected := session.Version
	next := session.Clone()
	next.Status = models.TournamentAbandoned
	next.CurrentMatchup = nil
	next.Version = expected + 1
	next.UpdatedAt = now

	if err := e.sessions.UpdateSession(ctx, next, expected); err != nil {
		return nil, models.Downstream(op, err)
	}

	e.metrics.TournamentsCompleted.WithLabelValues(next.Category, string(models.TournamentAbandoned)).Inc()
	return next, nil
}

// AbandonStaleSessions abandons active sessions idle since before olderThan.
// Failures are logged per session and do not stop the pass.
func (e *TournamentEngine) AbandonStaleSessions(ctx context.Context, olderThan time.Time) (int, error) {
	stale, err := e.sessions.ListStaleSessions(ctx, olderThan)
	if err != nil {
		return 0, models.Downstream("abandon stale sessions", err)
	}

	abandoned := 0
	for _, s := range stale {
		if ctx.Err() != nil {
			return abandoned, ctx.Err()
		}
		if _, err := e.AbandonTournament(ctx, s.ID); err != nil {
			e.logger.WithError(err).WithField("session_id", s.ID).Warn("Failed to abandon stale session")
			continue
		}
		abandoned++
	}
	return abandoned, nil
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
