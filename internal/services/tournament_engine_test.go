package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

func TestTournamentEngine_StartTournament(t *testing.T) {
	ctx := context.Background()

	t.Run("fifteen images is not enough", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "footwear", 15)

		_, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("sixteen images gives four rounds", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "footwear", 16)

		session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
		require.NoError(t, err)
		assert.Equal(t, 4, session.TotalRounds)
		assert.Equal(t, 1, session.CurrentRound)
		assert.Equal(t, models.TournamentActive, session.Status)
		assert.Len(t, session.RemainingImages, 16)
		require.NotNil(t, session.CurrentMatchup)
		assert.Equal(t, 1, session.CurrentMatchup.Sequence)
	})

	t.Run("pool is trimmed to a power of two", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "clothing", 23)

		session, err := env.engine.StartTournament(ctx, uuid.New(), "clothing")
		require.NoError(t, err)
		assert.Len(t, session.RemainingImages, 16)
		assert.Equal(t, 4, session.TotalRounds)
	})

	t.Run("inactive images are ignored", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "color", 15)
		env.store.PutImages(models.Image{ID: uuid.New(), Category: "color", Active: false})

		_, err := env.engine.StartTournament(ctx, uuid.New(), "color")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("unknown category", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.engine.StartTournament(ctx, uuid.New(), "furniture")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("category is normalised", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "footwear", 16)

		session, err := env.engine.StartTournament(ctx, uuid.New(), "  FootWear ")
		require.NoError(t, err)
		assert.Equal(t, "footwear", session.Category)
	})

	t.Run("active session is resumed", func(t *testing.T) {
		env := newTestEnv(t)
		seedImages(env.store, "footwear", 16)
		user := uuid.New()

		first, err := env.engine.StartTournament(ctx, user, "footwear")
		require.NoError(t, err)
		second, err := env.engine.StartTournament(ctx, user, "footwear")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})
}

func TestTournamentEngine_FullBracket(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)
	user := uuid.New()

	session, err := env.engine.StartTournament(ctx, user, "footwear")
	require.NoError(t, err)

	var result *models.TournamentResult
	var lastLoser uuid.UUID
	for i := 0; i < 15; i++ {
		require.NotNil(t, session.CurrentMatchup, "choice %d", i)
		before := len(session.EliminatedImages) + len(session.RemainingImages)

		env.clock.Advance(1500 * time.Millisecond)
		m := session.CurrentMatchup
		lastLoser = m.Right

		outcome, err := env.engine.ProcessChoice(ctx, models.ChoiceRequest{
			SessionID: session.ID,
			WinnerID:  m.Left,
			Sequence:  m.Sequence,
		})
		require.NoError(t, err, "choice %d", i)

		session = outcome.Session
		assert.Equal(t, before, len(session.EliminatedImages)+len(session.RemainingImages))
		assert.Equal(t, 16-(i+1), len(session.RemainingImages))
		result = outcome.Result
	}

	require.NotNil(t, result)
	assert.Equal(t, models.TournamentCompleted, session.Status)
	assert.Nil(t, session.CurrentMatchup)
	assert.Len(t, session.RemainingImages, 1)
	assert.Len(t, result.EliminationOrder, 15)
	assert.Equal(t, session.RemainingImages[0], result.Champion)
	assert.Equal(t, lastLoser, result.Finalist)
	assert.Equal(t, lastLoser, result.EliminationOrder[14])
	assert.Len(t, result.TopChoices, 6)
	assert.Equal(t, result.Champion, result.TopChoices[0])
	assert.Equal(t, 4, result.RoundsPlayed)
	assert.InDelta(t, 1.0, result.PreferenceStrength, 1e-9)

	stored := env.store.Result(session.ID)
	require.NotNil(t, stored)
	assert.Equal(t, result.Champion, stored.Champion)

	profile, err := env.styles.Get(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, result.Champion, profile.Categories["footwear"].Champion)

	_, err = env.engine.ProcessChoice(ctx, models.ChoiceRequest{SessionID: session.ID, WinnerID: result.Champion})
	assert.True(t, errors.Is(err, models.ErrConcurrency))
}

func TestTournamentEngine_MatchupReadsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	first, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)
	second, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.CurrentMatchup, *second.CurrentMatchup)
}

func TestTournamentEngine_DuplicateChoiceRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	req := models.ChoiceRequest{
		SessionID: session.ID,
		WinnerID:  session.CurrentMatchup.Left,
		Sequence:  session.CurrentMatchup.Sequence,
	}
	_, err = env.engine.ProcessChoice(ctx, req)
	require.NoError(t, err)

	advanced, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)

	t.Run("same sequence", func(t *testing.T) {
		_, err := env.engine.ProcessChoice(ctx, req)
		assert.True(t, errors.Is(err, models.ErrConcurrency))
	})

	t.Run("without sequence", func(t *testing.T) {
		req := req
		req.Sequence = 0
		_, err := env.engine.ProcessChoice(ctx, req)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	after, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, advanced.CurrentRound, after.CurrentRound)
	assert.Equal(t, len(advanced.RemainingImages), len(after.RemainingImages))
	assert.Equal(t, advanced.Version, after.Version)
}

func TestTournamentEngine_WinnerOutsideMatchup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	_, err = env.engine.ProcessChoice(ctx, models.ChoiceRequest{
		SessionID: session.ID,
		WinnerID:  uuid.New(),
		Sequence:  session.CurrentMatchup.Sequence,
	})
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestTournamentEngine_SemifinalWinnerReplayedIntoFinal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	var last models.ChoiceRequest
	for i := 0; i < 14; i++ {
		last = models.ChoiceRequest{
			SessionID: session.ID,
			WinnerID:  session.CurrentMatchup.Right,
			Sequence:  session.CurrentMatchup.Sequence,
		}
		outcome, err := env.engine.ProcessChoice(ctx, last)
		require.NoError(t, err, "choice %d", i)
		session = outcome.Session
	}
	require.Len(t, session.RemainingImages, 2)
	require.True(t, session.CurrentMatchup.Contains(last.WinnerID))

	t.Run("without sequence", func(t *testing.T) {
		req := last
		req.Sequence = 0
		_, err := env.engine.ProcessChoice(ctx, req)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("with the semifinal sequence", func(t *testing.T) {
		_, err := env.engine.ProcessChoice(ctx, last)
		assert.True(t, errors.Is(err, models.ErrConcurrency))
	})

	after, err := env.engine.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentActive, after.Status)
	assert.Len(t, after.RemainingImages, 2)
	assert.Equal(t, session.Version, after.Version)
	assert.Nil(t, env.store.Result(session.ID))
}

func TestTournamentEngine_ConcurrentChoices(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	session, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)
	req := models.ChoiceRequest{
		SessionID: session.ID,
		WinnerID:  session.CurrentMatchup.Left,
		Sequence:  session.CurrentMatchup.Sequence,
	}

	const workers = 8
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := env.engine.ProcessChoice(ctx, req)
			errs <- err
		}()
	}

	accepted := 0
	for i := 0; i < workers; i++ {
		if err := <-errs; err == nil {
			accepted++
		} else {
			assert.True(t, errors.Is(err, models.ErrConcurrency))
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestTournamentEngine_SeededPairingIsReproducible(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 32)

	other := NewTournamentEngine(env.cfg.Tournament, env.store, env.store, nil, env.metrics, env.logger, rand.New(rand.NewSource(7)), env.clock.Now)
	env.engine = NewTournamentEngine(env.cfg.Tournament, env.store, env.store, nil, env.metrics, env.logger, rand.New(rand.NewSource(7)), env.clock.Now)

	a, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)
	b, err := other.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	assert.Equal(t, a.RoundEntrants, b.RoundEntrants)
}

func TestTournamentEngine_AbandonStaleSessions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedImages(env.store, "footwear", 16)

	stale, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	env.clock.Advance(25 * time.Hour)
	fresh, err := env.engine.StartTournament(ctx, uuid.New(), "footwear")
	require.NoError(t, err)

	n, err := env.engine.AbandonStaleSessions(ctx, env.clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.engine.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentAbandoned, got.Status)

	got, err = env.engine.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentActive, got.Status)
}

func TestPreferenceStrength(t *testing.T) {
	tests := []struct {
		name     string
		latency  float64
		expected float64
	}{
		{"instant", 0, 1.0},
		{"two seconds", 2000, 1.0},
		{"six seconds", 6000, 0.5},
		{"ten seconds", 10000, 0.1},
		{"very slow", 60000, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, PreferenceStrength(tt.latency), 1e-9)
		})
	}
}
