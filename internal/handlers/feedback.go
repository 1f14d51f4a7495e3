package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
	"github.com/temcen/affinity/pkg/models"
)

type FeedbackHandler struct {
	processor services.FeedbackService
	logger    *logrus.Logger
	validator *validator.Validate
}

func NewFeedbackHandler(processor services.FeedbackService, logger *logrus.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		processor: processor,
		logger:    logger,
		validator: validator.New(),
	}
}

func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, "VALIDATION_FAILED", "Request validation failed", err)
		return
	}

	result, err := h.processor.SubmitFeedback(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "FEEDBACK_FAILED", "Failed to record feedback")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": result})
}
