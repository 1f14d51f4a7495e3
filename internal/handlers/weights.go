package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/pkg/models"
)

// UpdateWeightsRequest carries a partial weight vector; omitted dimensions keep
// their current value before renormalisation.
type UpdateWeightsRequest struct {
	Weights map[models.Dimension]float64 `json:"weights" validate:"required,min=1,dive,gte=0,lte=1"`
}

type WeightsHandler struct {
	weights   services.WeightService
	logger    *logrus.Logger
	validator *validator.Validate
}

func NewWeightsHandler(weights services.WeightService, logger *logrus.Logger) *WeightsHandler {
	return &WeightsHandler{
		weights:   weights,
		logger:    logger,
		validator: validator.New(),
	}
}

func (h *WeightsHandler) Get(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	weights, err := h.weights.GetWeights(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err, "WEIGHTS_LOOKUP_FAILED", "Failed to load weights")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"weights": weights,
	})
}

func (h *WeightsHandler) Put(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req UpdateWeightsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	weights, err := h.weights.SetWeights(c.Request.Context(), userID, models.WeightVector(req.Weights))
	if err != nil {
		respondError(c, h.logger, err, "WEIGHTS_UPDATE_FAILED", "Failed to update weights")
		return
	}

	h.logger.WithField("user_id", userID).Info("Weights updated manually")
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"weights": weights,
	})
}
