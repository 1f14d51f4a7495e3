package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/pkg/models"
)

type StartTournamentRequest struct {
	UserID   uuid.UUID `json:"user_id" validate:"required"`
	Category string    `json:"category" validate:"required,max=64"`
}

type SubmitChoiceRequest struct {
	WinnerID uuid.UUID `json:"winner_id" validate:"required"`
	Sequence int       `json:"sequence" validate:"required,min=1"`
}

type TournamentHandler struct {
	engine    services.TournamentService
	logger    *logrus.Logger
	validator *validator.Validate
}

func NewTournamentHandler(engine services.TournamentService, logger *logrus.Logger) *TournamentHandler {
	return &TournamentHandler{
		engine:    engine,
		logger:    logger,
		validator: validator.New(),
	}
}

// Start begins a tournament, or resumes the user's active one in that category.
func (h *TournamentHandler) Start(c *gin.Context) {
	var req StartTournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	session, err := h.engine.StartTournament(c.Request.Context(), req.UserID, req.Category)
	if err != nil {
		respondError(c, h.logger, err, "TOURNAMENT_START_FAILED", "Failed to start tournament")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

func (h *TournamentHandler) SubmitChoice(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "INVALID_SESSION_ID", "Invalid session ID format", nil)
		return
	}

	var req SubmitChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	outcome, err := h.engine.ProcessChoice(c.Request.Context(), models.ChoiceRequest{
		SessionID: sessionID,
		WinnerID:  req.WinnerID,
		Sequence:  req.Sequence,
	})
	if err != nil {
		respondError(c, h.logger, err, "CHOICE_FAILED", "Failed to process choice")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": outcome})
}

// Active returns the user's active session; category is optional.
func (h *TournamentHandler) Active(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil || userID == uuid.Nil {
		badRequest(c, "INVALID_USER_ID", "Invalid user ID format", nil)
		return
	}

	session, err := h.engine.GetActiveSession(c.Request.Context(), userID, c.Query("category"))
	if err != nil {
		respondError(c, h.logger, err, "TOURNAMENT_LOOKUP_FAILED", "Failed to load tournament")
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "NO_ACTIVE_TOURNAMENT",
				"message": "No active tournament",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}
