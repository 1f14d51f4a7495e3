package handlers

import (
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
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

// MockRecommendationService is a mock implementation
type MockRecommendationService struct {
	mock.Mock
}

func (m *MockRecommendationService) GenerateRecommendations(ctx context.Context, userID uuid.UUID, opts models.RecommendationOptions) (*models.RecommendationResult, error) {
	args := m.Called(ctx, userID, opts)
	if r := args.Get(0); r != nil {
		return r.(*models.RecommendationResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestRecommendationHandler_Get(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockRecommendationService)
	handler := NewRecommendationHandler(mockService, testLogger())

	userID := uuid.New()
	excluded := uuid.New()
	missingUser := uuid.New()

	mockResult := &models.RecommendationResult{
		UserID: userID,
		Recommendations: []models.MatchScore{
			{CandidateID: uuid.New(), TotalScore: 0.91, AdaptiveScore: 1.0, Position: 1},
			{CandidateID: uuid.New(), TotalScore: 0.84, AdaptiveScore: 0.9, Position: 2},
		},
		ContextualWeights: models.DefaultWeights(),
		GeneratedAt:       time.Now(),
	}

	mockService.On("GenerateRecommendations", mock.Anything, userID, mock.MatchedBy(func(opts models.RecommendationOptions) bool {
		return opts.Limit == 0 && !opts.IncludeExploration
	})).Return(mockResult, nil)

	mockService.On("GenerateRecommendations", mock.Anything, userID, mock.MatchedBy(func(opts models.RecommendationOptions) bool {
		return opts.Limit == 5 &&
			opts.IncludeExploration &&
			opts.ForceRefresh &&
			opts.Algorithm == models.AlgorithmContent &&
			opts.Hints.Mood == "happy" &&
			opts.Hints.SessionIntent == "nearby" &&
			len(opts.ExcludeIDs) == 1 && opts.ExcludeIDs[0] == excluded
	})).Return(mockResult, nil)

	mockService.On("GenerateRecommendations", mock.Anything, userID, mock.MatchedBy(func(opts models.RecommendationOptions) bool {
		return opts.Limit == 500
	})).Return(nil, models.Validationf("generate recommendations", "limit must be between 1 and 100"))

	mockService.On("GenerateRecommendations", mock.Anything, missingUser, mock.Anything).
		Return(nil, models.NotFoundf("load profile", "profile %s not found", missingUser))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedCount  int
		expectedCode   string
	}{
		{
			name:           "Valid request with default parameters",
			path:           "/api/v1/users/" + userID.String() + "/recommendations",
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name: "Valid request with every option",
			path: "/api/v1/users/" + userID.String() + "/recommendations?limit=5&exploration=true&refresh=true" +
				"&algorithm=content&mood=happy&intent=nearby&exclude=" + excluded.String(),
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Invalid user ID",
			path:           "/api/v1/users/invalid-uuid/recommendations",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_USER_ID",
		},
		{
			name:           "Non numeric limit",
			path:           "/api/v1/users/" + userID.String() + "/recommendations?limit=ten",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_LIMIT",
		},
		{
			name:           "Malformed exclusion list",
			path:           "/api/v1/users/" + userID.String() + "/recommendations?exclude=abc",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "INVALID_EXCLUDE",
		},
		{
			name:           "Limit rejected by the service",
			path:           "/api/v1/users/" + userID.String() + "/recommendations?limit=500",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_FAILED",
		},
		{
			name:           "Unknown user",
			path:           "/api/v1/users/" + missingUser.String() + "/recommendations",
			expectedStatus: http.StatusNotFound,
			expectedCode:   "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/api/v1/users/:userId/recommendations", handler.Get)

			req, _ := http.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response models.RecommendationResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
				assert.Equal(t, userID, response.UserID)
				assert.Len(t, response.Recommendations, tt.expectedCount)
			} else {
				assert.Equal(t, tt.expectedCode, decodeError(t, w).Error.Code)
			}
		})
	}

	mockService.AssertExpectations(t)
}

func TestRespondError_DownstreamHidesCause(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockRecommendationService)
	handler := NewRecommendationHandler(mockService, testLogger())
	userID := uuid.New()

	mockService.On("GenerateRecommendations", mock.Anything, userID, mock.Anything).
		Return(nil, models.Downstream("load candidates", assert.AnError))

	router := gin.New()
	router.GET("/api/v1/users/:userId/recommendations", handler.Get)

	req, _ := http.NewRequest("GET", "/api/v1/users/"+userID.String()+"/recommendations", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decodeError(t, w)
	assert.Equal(t, "DOWNSTREAM_UNAVAILABLE", env.Error.Code)
	assert.NotContains(t, env.Error.Message, assert.AnError.Error())
}
