package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/pkg/models"
)

type Handlers struct {
	Health         *HealthHandler
	Tournament     *TournamentHandler
	Recommendation *RecommendationHandler
	Feedback       *FeedbackHandler
	Weights        *WeightsHandler
}

func New(logger *logrus.Logger, svcs *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(logger, svcs.Health),
		Tournament:     NewTournamentHandler(svcs.Tournaments, logger),
		Recommendation: NewRecommendationHandler(svcs.Orchestrator, logger),
		Feedback:       NewFeedbackHandler(svcs.Feedback, logger),
		Weights:        NewWeightsHandler(svcs.Weights, logger),
	}
}

// respondError maps an error kind onto the HTTP status and error envelope.
func respondError(c *gin.Context, logger *logrus.Logger, err error, code, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status, code, message = http.StatusBadRequest, "VALIDATION_FAILED", err.Error()
	case errors.Is(err, models.ErrNotFound):
		status, code, message = http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, models.ErrConcurrency):
		status, code, message = http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, models.ErrDownstream):
		status, code = http.StatusBadGateway, "DOWNSTREAM_UNAVAILABLE"
	}

	entry := logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request.Method,
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func badRequest(c *gin.Context, code, message string, details error) {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details.Error()
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": body})
}

func parseUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil || userID == uuid.Nil {
		badRequest(c, "INVALID_USER_ID", "Invalid user ID format", nil)
		return uuid.Nil, false
	}
	return userID, true
}
