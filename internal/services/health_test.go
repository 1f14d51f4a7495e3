package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

type staticChecker map[string]string

func (c staticChecker) Health(ctx context.Context) map[string]string {
	return c
}

type failingProfiles struct {
	calls int
}

func (f *failingProfiles) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	f.calls++
	return nil, errors.New("too many connections")
}

func (f *failingProfiles) GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error) {
	f.calls++
	return nil, errors.New("too many connections")
}

type missingProfiles struct {
	calls int
}

func (m *missingProfiles) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	m.calls++
	return nil, models.NotFoundf("get profile", "profile %s not found", userID)
}

func (m *missingProfiles) GetCandidates(ctx context.Context, filter models.CandidateFilter) ([]*models.Profile, error) {
	m.calls++
	return nil, models.Validationf("get candidates", "limit must be positive")
}

func TestHealthService_CheckHealth(t *testing.T) {
	logger := testLogger()
	breakers := NewGuardedProfileStore(&failingProfiles{}, 0, logger)

	tests := []struct {
		name     string
		backends staticChecker
		status   string
	}{
		{"all healthy", staticChecker{"postgres": "healthy", "redis": "healthy"}, "healthy"},
		{"optional backend down", staticChecker{"postgres": "healthy", "redis": "unhealthy: dial tcp"}, "degraded"},
		{"critical backend down", staticChecker{"postgres": "unhealthy: timeout", "redis": "healthy"}, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(tt.backends, breakers, logger, "postgres")
			status := hs.CheckHealth(context.Background())
			assert.Equal(t, tt.status, status.Status)
			assert.Len(t, status.Services, len(tt.backends))
			assert.Contains(t, status.Details, "circuit_breakers")
		})
	}

	t.Run("no backends", func(t *testing.T) {
		hs := NewHealthService(nil, nil, logger)
		assert.Equal(t, "healthy", hs.CheckHealth(context.Background()).Status)
	})
}

func TestGuardedProfileStore_TripsAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	backend := &failingProfiles{}
	guarded := NewGuardedProfileStore(backend, 0, testLogger())

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := guarded.GetProfile(ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrDownstream))
	}
	assert.Equal(t, 5, backend.calls)
	assert.Equal(t, "open", guarded.State()["profile-store.get"])
	assert.Equal(t, "closed", guarded.State()["profile-store.candidates"])

	_, err := guarded.GetProfile(ctx, uuid.New())
	assert.True(t, errors.Is(err, models.ErrDownstream))
	assert.Equal(t, 5, backend.calls, "open breaker must not reach the store")
}

func TestGuardedProfileStore_RequestErrorsDoNotTrip(t *testing.T) {
	ctx := context.Background()
	backend := &missingProfiles{}
	guarded := NewGuardedProfileStore(backend, 0, testLogger())

	for i := 0; i < 2*breakerFailureThreshold; i++ {
		_, err := guarded.GetProfile(ctx, uuid.New())
		assert.True(t, errors.Is(err, models.ErrNotFound))

		_, err = guarded.GetCandidates(ctx, models.CandidateFilter{})
		assert.True(t, errors.Is(err, models.ErrValidation))
	}
	assert.Equal(t, 4*breakerFailureThreshold, backend.calls)
	assert.Equal(t, "closed", guarded.State()["profile-store.get"])
	assert.Equal(t, "closed", guarded.State()["profile-store.candidates"])
}

func TestGuardedProfileStore_PassesThrough(t *testing.T) {
	env := newTestEnv(t)
	user := baseProfile(30, "f")
	env.store.PutProfile(user)
	guarded := NewGuardedProfileStore(env.store, 0, env.logger)

	got, err := guarded.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	missing, err := guarded.GetProfile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
