package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/internal/services"
)

type HealthHandler struct {
	logger *logrus.Logger
	health *services.HealthService
}

func NewHealthHandler(logger *logrus.Logger, health *services.HealthService) *HealthHandler {
	return &HealthHandler{logger: logger, health: health}
}

// Check reports backend status: degraded answers 200, unhealthy 503.
func (h *HealthHandler) Check(c *gin.Context) {
	status := h.health.CheckHealth(c.Request.Context())
	if status.Status != "healthy" {
		h.logger.WithFields(logrus.Fields{
			"status":   status.Status,
			"critical": status.Critical,
		}).Warn("Health check not healthy")
	}
	c.JSON(healthStatusCode(status.Status), status)
}

func healthStatusCode(status string) int {
	switch status {
	case "healthy", "degraded":
		return http.StatusOK
	case "unhealthy":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
