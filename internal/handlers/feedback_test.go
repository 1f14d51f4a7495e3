package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/affinity/pkg/models"
)

type MockFeedbackService struct {
	mock.Mock
}

func (m *MockFeedbackService) SubmitFeedback(ctx context.Context, req models.FeedbackRequest) (*models.FeedbackResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*models.FeedbackResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestFeedbackHandler_Submit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockService := new(MockFeedbackService)
	router := gin.New()
	router.POST("/api/v1/feedback", NewFeedbackHandler(mockService, testLogger()).Submit)

	userID, targetID := uuid.New(), uuid.New()
	eventID := uuid.New()

	mockService.On("SubmitFeedback", mock.Anything, mock.MatchedBy(func(req models.FeedbackRequest) bool {
		return req.UserID == userID && req.Action == models.ActionLike && req.Context.Mood == "happy"
	})).Return(&models.FeedbackResult{Accepted: true, MatchCreated: true, EventID: eventID}, nil)

	mockService.On("SubmitFeedback", mock.Anything, mock.MatchedBy(func(req models.FeedbackRequest) bool {
		return req.Action == "wink"
	})).Return(nil, models.Validationf("submit feedback", "unknown action %q", "wink"))

	t.Run("Accepted", func(t *testing.T) {
		w := postJSON(router, "/api/v1/feedback", models.FeedbackRequest{
			UserID: userID, TargetID: targetID, Action: models.ActionLike,
			Context: models.FeedbackContext{Mood: "happy"},
		})
		assert.Equal(t, http.StatusAccepted, w.Code)

		var body struct {
			Data models.FeedbackResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.True(t, body.Data.MatchCreated)
		assert.Equal(t, eventID, body.Data.EventID)
	})

	t.Run("Unknown action", func(t *testing.T) {
		w := postJSON(router, "/api/v1/feedback", models.FeedbackRequest{UserID: userID, TargetID: targetID, Action: "wink"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "VALIDATION_FAILED", decodeError(t, w).Error.Code)
	})

	t.Run("Missing target", func(t *testing.T) {
		w := postJSON(router, "/api/v1/feedback", models.FeedbackRequest{UserID: userID, Action: models.ActionLike})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		w := postJSON(router, "/api/v1/feedback", `{"user_id":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Error.Code)
	})

	mockService.AssertExpectations(t)
}
