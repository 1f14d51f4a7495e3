package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/validation"
	"github.com/temcen/affinity/pkg/models"
)

// Querier is the subset of pgxpool.Pool used by PostgresStore, so tests can
// substitute pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const uniqueViolation = "23505"

// PostgresStore implements every repository and collaborator store on PostgreSQL.
type PostgresStore struct {
	db        Querier
	validator *validation.RecordValidator
	logger    *logrus.Logger
}

func NewPostgresStore(db Querier, validator *validation.RecordValidator, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, validator: validator, logger: logger}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Profiles

type profileAttributes struct {
	Style         map[string][]uuid.UUID `json:"style,omitempty"`
	Hobbies       []string               `json:"hobbies,omitempty"`
	Personality   []float64              `json:"personality,omitempty"`
	Emotional     []float64              `json:"emotional,omitempty"`
	ActivityLevel float64                `json:"activity_level"`
	ActiveHours   []int                  `json:"active_hours,omitempty"`
}

const profileColumns = `id, age, gender, lat, lng, attributes, preferences, popularity, last_active_at`

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p           models.Profile
		attrsJSON   []byte
		prefsJSON   []byte
		lastActive  *time.Time
		attributes  profileAttributes
		preferences models.PreferenceFilters
	)
	if err := row.Scan(&p.ID, &p.Age, &p.Gender, &p.Location.Lat, &p.Location.Lng,
		&attrsJSON, &prefsJSON, &p.Popularity, &lastActive); err != nil {
		return nil, err
	}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &attributes); err != nil {
			return nil, fmt.Errorf("failed to decode profile attributes: %w", err)
		}
	}
	if len(prefsJSON) > 0 {
		if err := json.Unmarshal(prefsJSON, &preferences); err != nil {
			return nil, fmt.Errorf("failed to decode profile preferences: %w", err)
		}
	}
	p.Style = attributes.Style
	p.Hobbies = attributes.Hobbies
	p.Personality = attributes.Personality
	p.Emotional = attributes.Emotional
	p.ActivityLevel = attributes.ActivityLevel
	p.ActiveHours = attributes.ActiveHours
	p.Preferences = preferences
	p.LastActiveAt = lastActive
	return &p, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	return p, nil
}

// GetCandidates narrows by a lat/lng bounding box in SQL and applies the exact
// great-circle distance and the candidates' own preferences afterwards, so
// Limit counts only eligible rows.
func (s *PostgresStore) GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error) {
	minLat, maxLat, minLng, maxLng := -90.0, 90.0, -180.0, 180.0
	if filter.MaxDistanceKm > 0 {
		dLat := filter.MaxDistanceKm / 111.32
		minLat, maxLat = filter.Center.Lat-dLat, filter.Center.Lat+dLat
		if cos := math.Cos(filter.Center.Lat * math.Pi / 180); cos > 0.01 {
			dLng := filter.MaxDistanceKm / (111.32 * cos)
			minLng, maxLng = filter.Center.Lng-dLng, filter.Center.Lng+dLng
		}
	}

	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE id <> $1
		  AND NOT (id = ANY($2::uuid[]))
		  AND ($3 = 0 OR age >= $3)
		  AND ($4 = 0 OR age <= $4)
		  AND (cardinality($5::text[]) = 0 OR gender = ANY($5::text[]))
		  AND lat BETWEEN $6 AND $7
		  AND lng BETWEEN $8 AND $9
		ORDER BY id`

	genders := filter.Genders
	if genders == nil {
		genders = []string{}
	}

	rows, err := s.db.Query(ctx, query, filter.UserID, uuidStrings(filter.ExcludeIDs),
		filter.MinAge, filter.MaxAge, genders, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if filter.MaxDistanceKm > 0 && models.HaversineKm(filter.Center, p.Location) > filter.MaxDistanceKm {
			continue
		}
		if !filter.AcceptsSeeker(p) {
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

// Interactions

func (s *PostgresStore) RecordInteraction(ctx context.Context, event models.InteractionEvent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO interactions (user_id, target_id, action, created_at) VALUES ($1, $2, $3, $4)`,
		event.UserID, event.TargetID, string(event.Action), event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasRecentInteraction(ctx context.Context, userID, targetID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM interactions WHERE user_id = $1 AND target_id = $2 AND created_at > $3)`,
		userID, targetID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent interaction: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecentTargets(ctx context.Context, userID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT target_id FROM interactions WHERE user_id = $1 AND created_at > $2`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent targets: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan recent target: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var positiveActions = []string{
	string(models.ActionLike),
	string(models.ActionSuperLike),
	string(models.ActionMessageSent),
	string(models.ActionMatchCreated),
	string(models.ActionConversationStarted),
	string(models.ActionDatePlanned),
}

func (s *PostgresStore) HasPositiveInteraction(ctx context.Context, userID, targetID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM interactions WHERE user_id = $1 AND target_id = $2 AND action = ANY($3::text[]))`,
		userID, targetID, positiveActions).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check positive interaction: %w", err)
	}
	return exists, nil
}

// Images

func scanImages(rows pgx.Rows) ([]models.Image, error) {
	defer rows.Close()
	var out []models.Image
	for rows.Next() {
		var (
			img      models.Image
			tagsJSON []byte
		)
		if err := rows.Scan(&img.ID, &img.Category, &img.URL, &tagsJSON, &img.Active, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &img.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode image tags: %w", err)
			}
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetImagesByCategory(ctx context.Context, category string) ([]models.Image, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, category, url, tags, active, created_at FROM images WHERE category = $1 AND active ORDER BY id`,
		category)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	return scanImages(rows)
}

func (s *PostgresStore) GetImagesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Image, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, category, url, tags, active, created_at FROM images WHERE id = ANY($1::uuid[])`,
		uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	return scanImages(rows)
}

// Tournament sessions

type sessionState struct {
	RemainingImages   []uuid.UUID     `json:"remaining_images"`
	EliminatedImages  []uuid.UUID     `json:"eliminated_images"`
	RoundEntrants     []uuid.UUID     `json:"round_entrants"`
	RoundWinners      []uuid.UUID     `json:"round_winners"`
	CurrentMatchup    *models.Matchup `json:"current_matchup,omitempty"`
	ChoiceLatenciesMs []int64         `json:"choice_latencies_ms,omitempty"`
}

func (s *PostgresStore) encodeSession(session *models.TournamentSession) ([]byte, error) {
	if err := s.validator.Check(validation.SchemaTournamentSession, session); err != nil {
		return nil, err
	}
	return json.Marshal(sessionState{
		RemainingImages:   session.RemainingImages,
		EliminatedImages:  session.EliminatedImages,
		RoundEntrants:     session.RoundEntrants,
		RoundWinners:      session.RoundWinners,
		CurrentMatchup:    session.CurrentMatchup,
		ChoiceLatenciesMs: session.ChoiceLatenciesMs,
	})
}

const sessionColumns = `id, user_id, category, status, current_round, total_rounds, state, version, started_at, updated_at, completed_at`

func scanSession(row rowScanner) (*models.TournamentSession, error) {
	var (
		session   models.TournamentSession
		status    string
		stateJSON []byte
		state     sessionState
	)
	if err := row.Scan(&session.ID, &session.UserID, &session.Category, &status,
		&session.CurrentRound, &session.TotalRounds, &stateJSON, &session.Version,
		&session.StartedAt, &session.UpdatedAt, &session.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	session.Status = models.TournamentStatus(status)
	session.RemainingImages = state.RemainingImages
	session.EliminatedImages = state.EliminatedImages
	session.RoundEntrants = state.RoundEntrants
	session.RoundWinners = state.RoundWinners
	session.CurrentMatchup = state.CurrentMatchup
	session.ChoiceLatenciesMs = state.ChoiceLatenciesMs
	return &session, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.TournamentSession) error {
	state, err := s.encodeSession(session)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tournament_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.UserID, session.Category, string(session.Status),
		session.CurrentRound, session.TotalRounds, state, session.Version,
		session.StartedAt, session.UpdatedAt, session.CompletedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return models.Concurrencyf("create session", "an active %s session already exists for user %s", session.Category, session.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*models.TournamentSession, error) {
	session, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM tournament_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NotFoundf("get session", "session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return session, nil
}

func (s *PostgresStore) FindActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	session, err := scanSession(s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM tournament_sessions
		WHERE user_id = $1 AND status = 'active' AND ($2 = '' OR category = $2)
		ORDER BY started_at DESC LIMIT 1`, userID, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active session: %w", err)
	}
	return session, nil
}

// UpdateSession is a compare-and-set on the version column.
func (s *PostgresStore) UpdateSession(ctx context.Context, session *models.TournamentSession, expectedVersion int) error {
	state, err := s.encodeSession(session)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE tournament_sessions
		SET status = $2, current_round = $3, total_rounds = $4, state = $5, version = $6,
		    updated_at = $7, completed_at = $8
		WHERE id = $1 AND version = $9`,
		session.ID, string(session.Status), session.CurrentRound, session.TotalRounds, state,
		session.Version, session.UpdatedAt, session.CompletedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Concurrencyf("update session", "session %s changed since version %d", session.ID, expectedVersion)
	}
	return nil
}

func (s *PostgresStore) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]*models.TournamentSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM tournament_sessions
		WHERE status = 'active' AND updated_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.TournamentSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *models.TournamentResult) error {
	topChoices, err := json.Marshal(result.TopChoices)
	if err != nil {
		return err
	}
	eliminationOrder, err := json.Marshal(result.EliminationOrder)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tournament_results (id, session_id, user_id, category, champion, finalist, top_choices,
			elimination_order, preference_strength, avg_choice_latency_ms, rounds_played, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO NOTHING`,
		result.ID, result.SessionID, result.UserID, result.Category, result.Champion, result.Finalist,
		topChoices, eliminationOrder, result.PreferenceStrength, result.AvgChoiceLatencyMs,
		result.RoundsPlayed, result.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save tournament result: %w", err)
	}
	return nil
}

// Style profiles

func scanStyleProfile(row rowScanner) (*models.StyleProfile, error) {
	var (
		sp        models.StyleProfile
		catsJSON  []byte
		updatedAt time.Time
	)
	if err := row.Scan(&sp.UserID, &catsJSON, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(catsJSON, &sp.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode style profile: %w", err)
	}
	sp.UpdatedAt = updatedAt
	return &sp, nil
}

func (s *PostgresStore) GetStyleProfile(ctx context.Context, userID uuid.UUID) (*models.StyleProfile, error) {
	sp, err := scanStyleProfile(s.db.QueryRow(ctx,
		`SELECT user_id, categories, updated_at FROM style_profiles WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load style profile: %w", err)
	}
	return sp, nil
}

func (s *PostgresStore) GetStyleProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.StyleProfile, error) {
	out := make(map[uuid.UUID]*models.StyleProfile)
	if len(userIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT user_id, categories, updated_at FROM style_profiles WHERE user_id = ANY($1::uuid[])`,
		uuidStrings(userIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query style profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sp, err := scanStyleProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan style profile: %w", err)
		}
		out[sp.UserID] = sp
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveStyleProfile(ctx context.Context, profile *models.StyleProfile) error {
	if err := s.validator.Check(validation.SchemaStyleProfile, profile.Categories); err != nil {
		return err
	}
	categories, err := json.Marshal(profile.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO style_profiles (user_id, categories, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET categories = EXCLUDED.categories, updated_at = EXCLUDED.updated_at`,
		profile.UserID, categories, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save style profile: %w", err)
	}
	return nil
}

// Weights

func (s *PostgresStore) GetWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT weights FROM user_weights WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load weights: %w", err)
	}
	if err := s.validator.Check(validation.SchemaWeightVector, raw); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Stored weight vector failed schema check")
		return nil, err
	}
	var weights models.WeightVector
	if err := json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("failed to decode weights: %w", err)
	}
	return weights, nil
}

// SaveWeights writes the vector and its audit records in one transaction.
func (s *PostgresStore) SaveWeights(ctx context.Context, userID uuid.UUID, weights models.WeightVector, records []models.WeightAdjustmentRecord) error {
	if err := s.validator.Check(validation.SchemaWeightVector, weights); err != nil {
		return err
	}
	raw, err := json.Marshal(weights)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_weights (user_id, weights, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET weights = EXCLUDED.weights, updated_at = EXCLUDED.updated_at`,
		userID, raw, time.Now()); err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}

	for _, r := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO weight_adjustments (id, user_id, attribute, old_weight, new_weight, reason, confidence, sample_size, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			r.ID, r.UserID, string(r.Attribute), r.OldWeight, r.NewWeight, r.Reason, r.Confidence, r.SampleSize, r.Timestamp); err != nil {
			return fmt.Errorf("failed to save adjustment record: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListAdjustments(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.WeightAdjustmentRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, attribute, old_weight, new_weight, reason, confidence, sample_size, created_at
		FROM weight_adjustments WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []models.WeightAdjustmentRecord
	for rows.Next() {
		var (
			r         models.WeightAdjustmentRecord
			attribute string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &attribute, &r.OldWeight, &r.NewWeight, &r.Reason,
			&r.Confidence, &r.SampleSize, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		r.Attribute = models.Dimension(attribute)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetLearningProfile(ctx context.Context, userID uuid.UUID) (*models.LearningProfile, error) {
	var lp models.LearningProfile
	err := s.db.QueryRow(ctx, `
		SELECT user_id, total_adjustments, learning_velocity, adaptation_rate, last_adjustment_at, updated_at
		FROM learning_profiles WHERE user_id = $1`, userID).
		Scan(&lp.UserID, &lp.TotalAdjustments, &lp.LearningVelocity, &lp.AdaptationRate, &lp.LastAdjustmentAt, &lp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load learning profile: %w", err)
	}
	return &lp, nil
}

func (s *PostgresStore) SaveLearningProfile(ctx context.Context, profile *models.LearningProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO learning_profiles (user_id, total_adjustments, learning_velocity, adaptation_rate, last_adjustment_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			total_adjustments = EXCLUDED.total_adjustments,
			learning_velocity = EXCLUDED.learning_velocity,
			adaptation_rate = EXCLUDED.adaptation_rate,
			last_adjustment_at = EXCLUDED.last_adjustment_at,
			updated_at = EXCLUDED.updated_at`,
		profile.UserID, profile.TotalAdjustments, profile.LearningVelocity, profile.AdaptationRate,
		profile.LastAdjustmentAt, profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save learning profile: %w", err)
	}
	return nil
}

// Feedback

const feedbackColumns = `id, user_id, target_user_id, action, polarity, created_at, context, match_score, weights_snapshot, target_attributes`

func scanFeedbackEvent(row rowScanner) (*models.FeedbackEvent, error) {
	var (
		ev                   models.FeedbackEvent
		action, polarity     string
		ctxJSON, weightsJSON []byte
		attributesJSON       []byte
	)
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.TargetUserID, &action, &polarity, &ev.Timestamp,
		&ctxJSON, &ev.MatchScore, &weightsJSON, &attributesJSON); err != nil {
		return nil, err
	}
	ev.Action = models.FeedbackAction(action)
	ev.Polarity = models.Polarity(polarity)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &ev.Context); err != nil {
			return nil, fmt.Errorf("failed to decode feedback context: %w", err)
		}
	}
	if len(weightsJSON) > 0 {
		if err := json.Unmarshal(weightsJSON, &ev.WeightsSnapshot); err != nil {
			return nil, fmt.Errorf("failed to decode weights snapshot: %w", err)
		}
	}
	if len(attributesJSON) > 0 {
		if err := json.Unmarshal(attributesJSON, &ev.TargetAttributes); err != nil {
			return nil, fmt.Errorf("failed to decode target attributes: %w", err)
		}
	}
	return &ev, nil
}

func (s *PostgresStore) SaveFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error {
	ctxJSON, err := json.Marshal(event.Context)
	if err != nil {
		return err
	}
	var weightsJSON, attributesJSON []byte
	if event.WeightsSnapshot != nil {
		if weightsJSON, err = json.Marshal(event.WeightsSnapshot); err != nil {
			return err
		}
	}
	if event.TargetAttributes != nil {
		if attributesJSON, err = json.Marshal(event.TargetAttributes); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(ctx, `INSERT INTO feedback_events (`+feedbackColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.UserID, event.TargetUserID, string(event.Action), string(event.Polarity),
		event.Timestamp, ctxJSON, event.MatchScore, weightsJSON, attributesJSON)
	if err != nil {
		return fmt.Errorf("failed to save feedback event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFeedbackEvents(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.FeedbackEvent, error) {
	rows, err := s.db.Query(ctx, `SELECT `+feedbackColumns+` FROM feedback_events
		WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback events: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackEvent
	for rows.Next() {
		ev, err := scanFeedbackEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback event: %w", err)
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountFeedbackEvents(ctx context.Context, userID uuid.UUID, action models.FeedbackAction, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM feedback_events
		WHERE user_id = $1 AND ($2 = '' OR action = $2) AND created_at >= $3`,
		userID, string(action), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count feedback events: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) LastFeedbackEvent(ctx context.Context, userID uuid.UUID) (*models.FeedbackEvent, error) {
	ev, err := scanFeedbackEvent(s.db.QueryRow(ctx, `SELECT `+feedbackColumns+` FROM feedback_events
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last feedback event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) UpsertDailyAggregate(ctx context.Context, userID uuid.UUID, day time.Time, positive, negative, neutral int) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback_daily_aggregates (user_id, day, positive, negative, neutral)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO UPDATE SET
			positive = EXCLUDED.positive,
			negative = EXCLUDED.negative,
			neutral = EXCLUDED.neutral`,
		userID, day.UTC().Truncate(24*time.Hour), positive, negative, neutral)
	if err != nil {
		return fmt.Errorf("failed to upsert daily aggregate: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveUsersSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT user_id FROM feedback_events WHERE created_at >= $1 ORDER BY user_id`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
