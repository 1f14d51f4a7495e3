package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/temcen/affinity/pkg/models"
)

type MockTournamentService struct {
	mock.Mock
}

func (m *MockTournamentService) StartTournament(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	args := m.Called(ctx, userID, category)
	if s := args.Get(0); s != nil {
		return s.(*models.TournamentSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTournamentService) ProcessChoice(ctx context.Context, req models.ChoiceRequest) (*models.ChoiceOutcome, error) {
	args := m.Called(ctx, req)
	if o := args.Get(0); o != nil {
		return o.(*models.ChoiceOutcome), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTournamentService) GetActiveSession(ctx context.Context, userID uuid.UUID, category string) (*models.TournamentSession, error) {
	args := m.Called(ctx, userID, category)
	if s := args.Get(0); s != nil {
		return s.(*models.TournamentSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func tournamentRouter(h *TournamentHandler) *gin.Engine {
	router := gin.New()
	router.POST("/api/v1/tournaments", h.Start)
	router.POST("/api/v1/tournaments/:id/choices", h.SubmitChoice)
	router.GET("/api/v1/tournaments/active", h.Active)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req, _ := http.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTournamentHandler_Start(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockEngine := new(MockTournamentService)
	router := tournamentRouter(NewTournamentHandler(mockEngine, testLogger()))

	userID := uuid.New()
	session := &models.TournamentSession{ID: uuid.New(), UserID: userID, Category: "footwear", Status: models.TournamentActive}

	mockEngine.On("StartTournament", mock.Anything, userID, "footwear").Return(session, nil)
	mockEngine.On("StartTournament", mock.Anything, userID, "furniture").
		Return(nil, models.Validationf("start tournament", "unknown category %q", "furniture"))

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
	}{
		{"Valid request", StartTournamentRequest{UserID: userID, Category: "footwear"}, http.StatusCreated},
		{"Unknown category", StartTournamentRequest{UserID: userID, Category: "furniture"}, http.StatusBadRequest},
		{"Missing category", StartTournamentRequest{UserID: userID}, http.StatusBadRequest},
		{"Missing user", StartTournamentRequest{Category: "footwear"}, http.StatusBadRequest},
		{"Malformed body", `{"user_id": "not-a-uuid"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/api/v1/tournaments", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	mockEngine.AssertExpectations(t)
}

func TestTournamentHandler_SubmitChoice(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockEngine := new(MockTournamentService)
	router := tournamentRouter(NewTournamentHandler(mockEngine, testLogger()))

	sessionID := uuid.New()
	winner := uuid.New()
	stale := uuid.New()

	mockEngine.On("ProcessChoice", mock.Anything, models.ChoiceRequest{SessionID: sessionID, WinnerID: winner, Sequence: 3}).
		Return(&models.ChoiceOutcome{Session: &models.TournamentSession{ID: sessionID}}, nil)
	mockEngine.On("ProcessChoice", mock.Anything, models.ChoiceRequest{SessionID: sessionID, WinnerID: stale, Sequence: 2}).
		Return(nil, models.Concurrencyf("process choice", "matchup %d is no longer current", 2))

	tests := []struct {
		name           string
		path           string
		body           interface{}
		expectedStatus int
	}{
		{"Accepted", "/api/v1/tournaments/" + sessionID.String() + "/choices", SubmitChoiceRequest{WinnerID: winner, Sequence: 3}, http.StatusOK},
		{"Stale matchup", "/api/v1/tournaments/" + sessionID.String() + "/choices", SubmitChoiceRequest{WinnerID: stale, Sequence: 2}, http.StatusConflict},
		{"Negative sequence", "/api/v1/tournaments/" + sessionID.String() + "/choices", SubmitChoiceRequest{WinnerID: winner, Sequence: -1}, http.StatusBadRequest},
		{"Missing sequence", "/api/v1/tournaments/" + sessionID.String() + "/choices", SubmitChoiceRequest{WinnerID: winner}, http.StatusBadRequest},
		{"Missing winner", "/api/v1/tournaments/" + sessionID.String() + "/choices", SubmitChoiceRequest{}, http.StatusBadRequest},
		{"Invalid session ID", "/api/v1/tournaments/abc/choices", SubmitChoiceRequest{WinnerID: winner}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	mockEngine.AssertExpectations(t)
}

func TestTournamentHandler_Active(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockEngine := new(MockTournamentService)
	router := tournamentRouter(NewTournamentHandler(mockEngine, testLogger()))

	playing, idle := uuid.New(), uuid.New()
	mockEngine.On("GetActiveSession", mock.Anything, playing, "footwear").
		Return(&models.TournamentSession{ID: uuid.New(), UserID: playing}, nil)
	mockEngine.On("GetActiveSession", mock.Anything, idle, "").Return(nil, nil)

	tests := []struct {
		name           string
		query          string
		expectedStatus int
	}{
		{"Active session", "?user_id=" + playing.String() + "&category=footwear", http.StatusOK},
		{"No active session", "?user_id=" + idle.String(), http.StatusNotFound},
		{"Missing user", "?category=footwear", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/v1/tournaments/active"+tt.query, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	mockEngine.AssertExpectations(t)
}
