package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/docingest-backend/internal/platform/logger"
)

// HealthHandler answers liveness probes. When check is set a failing dependency turns the
// probe into a 503.
type HealthHandler struct {
	log   *logger.Logger
	check func(context.Context) error
}

func NewHealthHandler(log *logger.Logger, check func(context.Context) error) *HealthHandler {
	return &HealthHandler{log: log.With("handler", "HealthHandler"), check: check}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.check(ctx); err != nil {
			h.log.Warn("Health check failed", "error", err)
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}
