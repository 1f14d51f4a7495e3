package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/pkg/models"
)

type RecommendationHandler struct {
	orchestrator services.RecommendationService
	logger       *logrus.Logger
}

func NewRecommendationHandler(orchestrator services.RecommendationService, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Get serves GET /users/:userId/recommendations.
//
// Query parameters: limit, exclude (comma separated ids), exploration,
// refresh, algorithm, mood and intent.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	opts := models.RecommendationOptions{
		IncludeExploration: c.Query("exploration") == "true",
		ForceRefresh:       c.Query("refresh") == "true",
		Algorithm:          models.Algorithm(c.Query("algorithm")),
		Hints: models.ContextualHints{
			Mood:          c.Query("mood"),
			SessionIntent: c.Query("intent"),
		},
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			badRequest(c, "INVALID_LIMIT", "limit must be an integer", nil)
			return
		}
		opts.Limit = limit
	}

	if excludeStr := c.Query("exclude"); excludeStr != "" {
		for _, raw := range strings.Split(excludeStr, ",") {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				badRequest(c, "INVALID_EXCLUDE", "exclude must be a comma separated list of ids", nil)
				return
			}
			opts.ExcludeIDs = append(opts.ExcludeIDs, id)
		}
	}

	result, err := h.orchestrator.GenerateRecommendations(c.Request.Context(), userID, opts)
	if err != nil {
		respondError(c, h.logger, err, "RECOMMENDATION_GENERATION_FAILED", "Failed to generate recommendations")
		return
	}

	c.JSON(http.StatusOK, result)
}
