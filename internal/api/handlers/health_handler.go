package handlers

import (
	"net/http"

	"example.com/backstage/services/telemetry/internal/models"

	"github.com/gin-gonic/gin"
)

// StatusProvider reports readiness for the health endpoint
type StatusProvider interface {
	IsInitialized() bool
	SyncStatus() models.SyncStatus
}

// HealthHandler serves liveness and the Prometheus scrape endpoint
type HealthHandler struct {
	status  StatusProvider
	metrics http.Handler
}

// NewHealthHandler creates a new health handler. metrics may be nil to disable /metrics.
func NewHealthHandler(status StatusProvider, metrics http.Handler) *HealthHandler {
	return &HealthHandler{status: status, metrics: metrics}
}

// HandleGetHealthCheck returns a simplified health status
func (h *HealthHandler) HandleGetHealthCheck(c *gin.Context) {
	st := h.status.SyncStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"initialized":  h.status.IsInitialized(),
		"sync_running": st.IsRunning,
		"last_sync":    st.LastSync,
	})
}

// RegisterRoutes registers the handler's routes
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.HandleGetHealthCheck)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}
}
