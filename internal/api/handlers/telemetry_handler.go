package handlers

import (
	"context"
	"net/http"
	"strconv"

	"example.com/backstage/services/telemetry/internal/catalog"
	"example.com/backstage/services/telemetry/internal/models"
	"example.com/backstage/services/telemetry/internal/scheduler"
	"example.com/backstage/services/telemetry/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultArchiveSize = 100

// TelemetryService is the coordinator surface served over HTTP
type TelemetryService interface {
	AllTelemetry() []models.TooltipSnapshot
	TelemetryForElement(key string) (models.TooltipSnapshot, bool)
	Properties(ctx context.Context, key string) (models.PropertyUpdate, bool)
	History(key string) []models.HistoryPoint
	SyncStatus() models.SyncStatus
	StartSync(ctx context.Context) error
	StopSync() error
	TriggerManualSync(ctx context.Context) (scheduler.CycleResult, error)
	Catalog() ([]models.CatalogEntry, error)
	ValidateCatalog() (catalog.ValidationReport, error)
}

// Archive serves history older than the in-memory window
type Archive interface {
	SearchHistory(ctx context.Context, elementID string, size int) ([]models.HistoryPoint, error)
}

// TelemetryHandler handles telemetry, history, sync and catalog requests
type TelemetryHandler struct {
	service TelemetryService
	archive Archive
	tracer  tracing.Tracer
}

// NewTelemetryHandler creates a new telemetry handler. archive may be nil.
func NewTelemetryHandler(service TelemetryService, archive Archive, tracer tracing.Tracer) *TelemetryHandler {
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	return &TelemetryHandler{
		service: service,
		archive: archive,
		tracer:  tracer,
	}
}

// RegisterRoutes registers the handler's routes
func (h *TelemetryHandler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")

	v1.GET("/telemetry", h.HandleListTelemetry)
	v1.GET("/telemetry/:key", h.HandleGetTelemetry)
	v1.GET("/telemetry/:key/properties", h.HandleGetProperties)
	v1.GET("/history/:key", h.HandleGetHistory)

	v1.GET("/sync/status", h.HandleSyncStatus)
	v1.POST("/sync/start", h.HandleStartSync)
	v1.POST("/sync/stop", h.HandleStopSync)
	v1.POST("/sync/trigger", h.HandleTriggerSync)

	v1.GET("/catalog", h.HandleGetCatalog)
	v1.GET("/catalog/validate", h.HandleValidateCatalog)
}

// HandleListTelemetry returns one snapshot per element
func (h *TelemetryHandler) HandleListTelemetry(c *gin.Context) {
	snaps := h.service.AllTelemetry()
	c.JSON(http.StatusOK, gin.H{"count": len(snaps), "telemetry": snaps})
}

// HandleGetTelemetry returns the snapshot of one element by id or label
func (h *TelemetryHandler) HandleGetTelemetry(c *gin.Context) {
	key := c.Param("key")
	snap, ok := h.service.TelemetryForElement(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no telemetry for " + key})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleGetProperties returns the full property set last written for one element
func (h *TelemetryHandler) HandleGetProperties(c *gin.Context) {
	key := c.Param("key")
	props, ok := h.service.Properties(c.Request.Context(), key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no properties for " + key})
		return
	}
	c.JSON(http.StatusOK, props)
}

// HandleGetHistory returns the history window of one element, or the archive when source=archive
func (h *TelemetryHandler) HandleGetHistory(c *gin.Context) {
	key := c.Param("key")

	if c.Query("source") != "archive" {
		points := h.service.History(key)
		c.JSON(http.StatusOK, gin.H{"key": key, "count": len(points), "history": points})
		return
	}

	if h.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "history archive is not configured"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(defaultArchiveSize)))
	if err != nil || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be a positive integer"})
		return
	}

	elementID := key
	if snap, ok := h.service.TelemetryForElement(key); ok {
		elementID = snap.ElementID
	}

	txn := h.tracer.StartTransaction("api-archive-history")
	defer h.tracer.EndTransaction(txn)
	h.tracer.AddAttribute(txn, "element_id", elementID)

	points, err := h.archive.SearchHistory(c.Request.Context(), elementID, size)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("element_id", elementID).Msg("Archive search failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "count": len(points), "history": points})
}

// HandleSyncStatus returns the scheduler status
func (h *TelemetryHandler) HandleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.SyncStatus())
}

// HandleStartSync starts periodic sync
func (h *TelemetryHandler) HandleStartSync(c *gin.Context) {
	if err := h.service.StartSync(context.WithoutCancel(c.Request.Context())); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.SyncStatus())
}

// HandleStopSync stops periodic sync
func (h *TelemetryHandler) HandleStopSync(c *gin.Context) {
	if err := h.service.StopSync(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.SyncStatus())
}

// HandleTriggerSync runs one sync cycle now
func (h *TelemetryHandler) HandleTriggerSync(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-trigger-sync")
	defer h.tracer.EndTransaction(txn)

	res, err := h.service.TriggerManualSync(c.Request.Context())
	if err != nil {
		h.tracer.RecordError(txn, err)
		respondError(c, err)
		return
	}
	h.tracer.AddAttribute(txn, "written", res.Written)

	c.JSON(http.StatusOK, gin.H{
		"fetched":            res.Fetched,
		"unmatched":          res.Unmatched,
		"written":            res.Written,
		"persistence_errors": res.PersistenceErrors,
		"fetch_failed":       res.FetchFailed,
		"duration_ms":        res.Duration.Milliseconds(),
		"status":             h.service.SyncStatus(),
	})
}

// HandleGetCatalog returns the extracted equipment
func (h *TelemetryHandler) HandleGetCatalog(c *gin.Context) {
	entries, err := h.service.Catalog()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "equipment": entries})
}

// HandleValidateCatalog compares the extracted equipment with the spec table
func (h *TelemetryHandler) HandleValidateCatalog(c *gin.Context) {
	report, err := h.service.ValidateCatalog()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"complete": report.Complete(), "report": report})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, models.ErrNotInitialized) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
