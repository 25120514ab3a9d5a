package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Counter reports how many entries the index holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	index Counter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(index Counter) *HealthHandler {
	return &HealthHandler{index: index}
}

// Health reports ok when the vector index answers a count.
func (h *HealthHandler) Health(c *gin.Context) {
	count, err := h.index.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"entries": count,
	})
}
