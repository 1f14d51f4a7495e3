package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/pkg/models"
)

// StyleProfileAggregator folds tournament results into per-user style profiles.
type StyleProfileAggregator struct {
	repo   StyleProfileRepository
	logger *logrus.Logger
}

func NewStyleProfileAggregator(repo StyleProfileRepository, logger *logrus.Logger) *StyleProfileAggregator {
	return &StyleProfileAggregator{repo: repo, logger: logger}
}

// Apply upserts the result's category entry. Other categories are left alone.
func (a *StyleProfileAggregator) Apply(ctx context.Context, result *models.TournamentResult) (*models.StyleProfile, error) {
	const op = "apply tournament result"

	profile, err := a.repo.GetStyleProfile(ctx, result.UserID)
	if err != nil {
		return nil, models.Downstream(op, err)
	}
	if profile == nil {
		profile = &models.StyleProfile{UserID: result.UserID}
	}
	if profile.Categories == nil {
		profile.Categories = make(map[string]models.CategoryPreference)
	}

	profile.Categories[result.Category] = models.CategoryPreference{
		Champion:           result.Champion,
		Finalist:           result.Finalist,
		TopChoices:         append([]uuid.UUID(nil), result.TopChoices...),
		PreferenceStrength: result.PreferenceStrength,
		LastUpdated:        result.CompletedAt,
	}
	profile.UpdatedAt = result.CompletedAt

	if err := a.repo.SaveStyleProfile(ctx, profile); err != nil {
		return nil, models.Downstream(op, err)
	}

	a.logger.WithFields(logrus.Fields{
		"user_id":    result.UserID,
		"category":   result.Category,
		"categories": len(profile.Categories),
	}).Debug("Style profile updated")

	return profile, nil
}

func (a *StyleProfileAggregator) Get(ctx context.Context, userID uuid.UUID) (*models.StyleProfile, error) {
	profile, err := a.repo.GetStyleProfile(ctx, userID)
	if err != nil {
		return nil, models.Downstream("get style profile", err)
	}
	return profile, nil
}

func (a *StyleProfileAggregator) GetMany(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]*models.StyleProfile, error) {
	profiles, err := a.repo.GetStyleProfiles(ctx, userIDs)
	if err != nil {
		return nil, models.Downstream("get style profiles", err)
	}
	return profiles, nil
}

// StyleSets turns a style profile into the per-category id sets compared by the scorer.
func StyleSets(profile *models.StyleProfile) map[string][]uuid.UUID {
	if profile == nil {
		return nil
	}
	sets := make(map[string][]uuid.UUID, len(profile.Categories))
	for category, pref := range profile.Categories {
		if len(pref.TopChoices) > 0 {
			sets[category] = append([]uuid.UUID(nil), pref.TopChoices...)
		}
	}
	return sets
}

// OverlayStyle replaces the profile's style sets with the tournament-derived
// ones where a category has been played.
func OverlayStyle(p *models.Profile, profile *models.StyleProfile) {
	sets := StyleSets(profile)
	if len(sets) == 0 {
		return
	}
	if p.Style == nil {
		p.Style = make(map[string][]uuid.UUID, len(sets))
	}
	for category, ids := range sets {
		p.Style[category] = ids
	}
}
