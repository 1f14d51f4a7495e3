package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/temcen/affinity/pkg/models"
)

// ProfileStore provides read access to user and candidate profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error)
}

// InteractionStore records user-to-user interactions and answers recency questions.
type InteractionStore interface {
	RecordInteraction(ctx context.Context, event models.InteractionEvent) error
	HasRecentInteraction(ctx context.Context, userID, targetID uuid.UUID, since time.Time) (bool, error)
	RecentTargets(ctx context.Context, userID uuid.UUID, since time.Time) ([]uuid.UUID, error)
	HasPositiveInteraction(ctx context.Context, userID, targetID uuid.UUID) (bool, error)
}

// ImageStore serves the tournament image catalogue.
type ImageStore interface {
	GetImagesByCategory(ctx context.Context, category string) ([]models.Image, error)
	GetImagesByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Image, error)
}

// TournamentRepository persists sessions and results. UpdateSession must fail
// with models.ErrConcurrency when the stored version differs from expectedVersion.
type TournamentRepository interface {
	CreateSession(ctx context.Context, session *models.TournamentSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.TournamentSession, error)
	FindActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error)
	UpdateSession(ctx context.Context, session *models.TournamentSession, expectedVersion int) error
	ListStaleSessions(ctx context.Context, olderThan time.Time) ([]*models.TournamentSession, error)
	SaveResult(ctx context.Context, result *models.TournamentResult) error
}

type StyleProfileRepository interface {
	GetStyleProfile(ctx context.Context, userID uuid.UUID) (*models.StyleProfile, error)
	GetStyleProfiles(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.StyleProfile, error)
	SaveStyleProfile(ctx context.Context, profile *models.StyleProfile) error
}

// WeightRepository persists base weight vectors and the adjustment audit trail.
// GetWeights returns (nil, nil) for a user that has never been seeded.
type WeightRepository interface {
	GetWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error)
	SaveWeights(ctx context.Context, userID uuid.UUID, weights models.WeightVector, records []models.WeightAdjustmentRecord) error
	ListAdjustments(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.WeightAdjustmentRecord, error)
	GetLearningProfile(ctx context.Context, userID uuid.UUID) (*models.LearningProfile, error)
	SaveLearningProfile(ctx context.Context, profile *models.LearningProfile) error
}

// FeedbackRepository stores the append-only feedback log. UpsertDailyAggregate
// writes absolute counts for (user, day), so replaying it is harmless.
type FeedbackRepository interface {
	SaveFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error
	ListFeedbackEvents(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.FeedbackEvent, error)
	CountFeedbackEvents(ctx context.Context, userID uuid.UUID, action models.FeedbackAction, since time.Time) (int, error)
	LastFeedbackEvent(ctx context.Context, userID uuid.UUID) (*models.FeedbackEvent, error)
	UpsertDailyAggregate(ctx context.Context, userID uuid.UUID, day time.Time, positive, negative, neutral int) error
	ActiveUsersSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)
}

// EventPublisher forwards feedback and weight changes to downstream consumers.
type EventPublisher interface {
	PublishFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) error
	PublishWeightAdjustments(ctx context.Context, userID uuid.UUID, records []models.WeightAdjustmentRecord) error
}

// CollaborativeAugmenter is the extension point for a collaborative-filtering
// signal. It returns extra per-candidate score contributions keyed by candidate id.
type CollaborativeAugmenter interface {
	Augment(ctx context.Context, userID uuid.UUID, candidates []uuid.UUID) (map[uuid.UUID]float64, error)
}

// Clock returns the current time. Services take one so tests can control time.
type Clock func() time.Time

// Service-level contracts consumed by the HTTP handlers.

type TournamentService interface {
	StartTournament(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error)
	ProcessChoice(ctx context.Context, req models.ChoiceRequest) (*models.ChoiceOutcome, error)
	GetActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error)
}

type RecommendationService interface {
	GenerateRecommendations(ctx context.Context, userID uuid.UUID, opts models.RecommendationOptions) (*models.RecommendationResult, error)
}

type FeedbackService interface {
	SubmitFeedback(ctx context.Context, req models.FeedbackRequest) (*models.FeedbackResult, error)
}

type WeightService interface {
	GetWeights(ctx context.Context, userID uuid.UUID) (models.WeightVector, error)
	SetWeights(ctx context.Context, userID uuid.UUID, partial models.WeightVector) (models.WeightVector, error)
}
