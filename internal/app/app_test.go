package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/internal/config"
	"github.com/temcen/affinity/pkg/models"
)

func newMemoryApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Database.Driver = "memory"

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	application, err := NewWithLogger(cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, application.Memory())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, application.Shutdown(ctx))
	})
	return application
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedUser(application *App, age int) *models.Profile {
	p := &models.Profile{
		ID:            uuid.New(),
		Age:           age,
		Gender:        "female",
		Location:      models.Location{Lat: 52.52, Lng: 13.405},
		Hobbies:       []string{"climbing", "jazz", "cooking"},
		Personality:   []float64{0.8, 0.2, 0.6, 0.4, 0.7},
		Emotional:     []float64{0.5, 0.9, 0.3},
		ActivityLevel: 6,
	}
	application.Memory().PutProfile(p)
	return p
}

func TestHealthAndMetrics(t *testing.T) {
	application := newMemoryApp(t)
	router := application.Router()

	w := do(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])

	w = do(t, router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTournamentToRecommendations(t *testing.T) {
	application := newMemoryApp(t)
	router := application.Router()
	store := application.Memory()

	for i := 0; i < 16; i++ {
		store.PutImages(models.Image{ID: uuid.New(), Category: "footwear", URL: "https://img.example/shoe", Active: true})
	}
	user := seedUser(application, 30)
	for i := 0; i < 8; i++ {
		seedUser(application, 27+i)
	}

	w := do(t, router, "POST", "/api/v1/tournaments", map[string]interface{}{
		"user_id":  user.ID,
		"category": "footwear",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var started struct {
		Data models.TournamentSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	session := started.Data

	var result *models.TournamentResult
	for i := 0; i < 32 && result == nil; i++ {
		require.NotNil(t, session.CurrentMatchup)
		w = do(t, router, "POST", "/api/v1/tournaments/"+session.ID.String()+"/choices", map[string]interface{}{
			"winner_id": session.CurrentMatchup.Left,
			"sequence":  session.CurrentMatchup.Sequence,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var outcome struct {
			Data models.ChoiceOutcome `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
		session = *outcome.Data.Session
		result = outcome.Data.Result
	}
	require.NotNil(t, result, "tournament never completed")
	assert.Equal(t, models.TournamentCompleted, session.Status)

	w = do(t, router, "GET", "/api/v1/tournaments/active?user_id="+user.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/users/"+user.ID.String()+"/recommendations?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var recs models.RecommendationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Equal(t, user.ID, recs.UserID)
	assert.Len(t, recs.Recommendations, 5)
	assert.InDelta(t, 1.0, recs.ContextualWeights.Sum(), models.WeightSumTolerance)
}

func TestFeedbackAndWeights(t *testing.T) {
	application := newMemoryApp(t)
	router := application.Router()

	alice := seedUser(application, 30)
	bob := seedUser(application, 31)

	w := do(t, router, "POST", "/api/v1/feedback", models.FeedbackRequest{UserID: alice.ID, TargetID: bob.ID, Action: models.ActionLike})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = do(t, router, "POST", "/api/v1/feedback", models.FeedbackRequest{UserID: bob.ID, TargetID: alice.ID, Action: models.ActionLike})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var body struct {
		Data models.FeedbackResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.MatchCreated)

	w = do(t, router, "PUT", "/api/v1/users/"+alice.ID.String()+"/weights", map[string]interface{}{
		"weights": map[string]float64{"location": 0.9},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, "GET", "/api/v1/users/"+alice.ID.String()+"/weights", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var weights struct {
		Weights models.WeightVector `json:"weights"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &weights))
	assert.InDelta(t, 1.0, weights.Weights.Sum(), models.WeightSumTolerance)
	for _, d := range models.Dimensions {
		if d != models.DimensionLocation {
			assert.Greater(t, weights.Weights[models.DimensionLocation], weights.Weights[d])
		}
	}
}

func TestNewFailsWithoutPostgres(t *testing.T) {
	cfg := config.Default()
	cfg.Database.URL = "://not-a-url"

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	_, err := NewWithLogger(cfg, logger)
	assert.Error(t, err)
}
