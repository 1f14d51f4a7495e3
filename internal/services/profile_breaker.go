package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/temcen/affinity/pkg/models"
)

const (
	breakerFailureThreshold = 5
	breakerOpenTimeout      = 30 * time.Second
	breakerHalfOpenRequests = 1
)

// GuardedProfileStore bounds every profile store call with a timeout and trips
// a circuit breaker after consecutive failures so a struggling store is not
// hammered by every recommendation request.
type GuardedProfileStore struct {
	store      ProfileStore
	timeout    time.Duration
	profiles   *gobreaker.CircuitBreaker[*models.Profile]
	candidates *gobreaker.CircuitBreaker[[]*models.Profile]
}

func NewGuardedProfileStore(store ProfileStore, timeout time.Duration, logger *logrus.Logger) *GuardedProfileStore {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: breakerHalfOpenRequests,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailureThreshold
			},
			IsSuccessful: storeHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			},
		}
	}

	return &GuardedProfileStore{
		store:      store,
		timeout:    timeout,
		profiles:   gobreaker.NewCircuitBreaker[*models.Profile](settings("profile-store.get")),
		candidates: gobreaker.NewCircuitBreaker[[]*models.Profile](settings("profile-store.candidates")),
	}
}

// storeHealthy treats answers about the request itself, such as a missing
// profile, as a working store.
func storeHealthy(err error) bool {
	return err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation)
}

func (g *GuardedProfileStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *GuardedProfileStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	ctx, cancel := g.bounded(ctx)
	defer cancel()

	profile, err := g.profiles.Execute(func() (*models.Profile, error) {
		return g.store.GetProfile(ctx, userID)
	})
	if err != nil {
		return nil, models.Downstream("get profile", err)
	}
	return profile, nil
}

func (g *GuardedProfileStore) GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error) {
	ctx, cancel := g.bounded(ctx)
	defer cancel()

	candidates, err := g.candidates.Execute(func() ([]*models.Profile, error) {
		return g.store.GetCandidates(ctx, filter)
	})
	if err != nil {
		return nil, models.Downstream("get candidates", err)
	}
	return candidates, nil
}

// State reports the breaker states for health output.
func (g *GuardedProfileStore) State() map[string]string {
	return map[string]string{
		g.profiles.Name():   g.profiles.State().String(),
		g.candidates.Name(): g.candidates.State().String(),
	}
}
