package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/service"
	"github.com/timmy/newsagent/internal/source"
)

const recentJobsLimit = 10

// AdminHandler handles admin operations.
type AdminHandler struct {
	ingestService *service.IngestService
	sources       map[string]source.Source
	archiveRaw    bool

	// Ingest job state
	mu            sync.RWMutex
	isRunning     bool
	currentStats  *service.IngestStats
	lastRunTime   time.Time
	lastRunStatus string
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - ingestService: ingest service instance.
//   - sources: map of source adapters keyed by name.
//   - archiveRaw: whether runs archive raw payloads by default.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(ingestService *service.IngestService, sources map[string]source.Source, archiveRaw bool) *AdminHandler {
	return &AdminHandler{
		ingestService: ingestService,
		sources:       sources,
		archiveRaw:    archiveRaw,
	}
}

// IngestRequest represents the ingest API request.
type IngestRequest struct {
	Source     string `json:"source" binding:"required"`
	Limit      int    `json:"limit" binding:"required,min=1,max=10000"`
	Force      bool   `json:"force"`
	ArchiveRaw *bool  `json:"archive_raw"`
}

// IngestResponse represents the ingest API response.
type IngestResponse struct {
	Message string               `json:"message"`
	Stats   *service.IngestStats `json:"stats,omitempty"`
}

// IngestStatusResponse represents the ingest status.
type IngestStatusResponse struct {
	IsRunning     bool                 `json:"is_running"`
	LastRunTime   string               `json:"last_run_time,omitempty"`
	LastRunStatus string               `json:"last_run_status,omitempty"`
	CurrentStats  *service.IngestStats `json:"current_stats,omitempty"`
	Sources       []string             `json:"sources"`
	SourceItems   map[string]int       `json:"source_items,omitempty"`
	RecentJobs    []domain.IngestJob   `json:"recent_jobs,omitempty"`
}

// TriggerIngest handles POST /api/v1/admin/ingest. The run is synchronous
// and only one may be active at a time.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	ctx := c.Request.Context()

	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid ingest request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, ok := h.sources[req.Source]
	if !ok {
		logger.CtxWarn(ctx, "Unknown source requested: source=%s, client_ip=%s", req.Source, c.ClientIP())
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown source: " + req.Source})
		return
	}

	h.mu.Lock()
	if h.isRunning {
		h.mu.Unlock()
		logger.CtxWarn(ctx, "Ingest request rejected: already running, source=%s", req.Source)
		c.JSON(http.StatusConflict, gin.H{"error": "Ingest is already running"})
		return
	}
	h.isRunning = true
	h.currentStats = nil
	h.mu.Unlock()

	archive := h.archiveRaw
	if req.ArchiveRaw != nil {
		archive = *req.ArchiveRaw
	}

	logger.CtxInfo(ctx, "Starting ingest process: source=%s, limit=%d, force=%v, archive_raw=%v",
		req.Source, req.Limit, req.Force, archive)

	// detach from the request so a client timeout does not cancel the run
	ingestCtx := context.WithoutCancel(ctx)
	startTime := time.Now()
	stats, err := h.ingestService.IngestFromSource(ingestCtx, src, req.Limit, &service.IngestOptions{
		Force:      req.Force,
		ArchiveRaw: archive,
	})
	duration := time.Since(startTime)

	h.mu.Lock()
	h.isRunning = false
	h.currentStats = stats
	h.lastRunTime = time.Now()
	if err != nil {
		h.lastRunStatus = "failed: " + err.Error()
	} else {
		h.lastRunStatus = "success"
	}
	h.mu.Unlock()

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Ingest process failed: source=%s, limit=%d, error=%v", req.Source, req.Limit, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "stats": stats})
		return
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: duration.Milliseconds(),
		logger.FieldCount:      stats.ProcessedItems,
	}).Info(ctx, "Ingest process completed: source=%s, total=%d, processed=%d, skipped=%d, failed=%d",
		req.Source, stats.TotalItems, stats.ProcessedItems, stats.SkippedItems, stats.FailedItems)

	c.JSON(http.StatusOK, IngestResponse{
		Message: "Ingest completed successfully",
		Stats:   stats,
	})
}

// GetIngestStatus handles GET /api/v1/admin/ingest/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) GetIngestStatus(c *gin.Context) {
	ctx := c.Request.Context()

	h.mu.RLock()
	resp := IngestStatusResponse{
		IsRunning:     h.isRunning,
		LastRunStatus: h.lastRunStatus,
		CurrentStats:  h.currentStats,
	}
	if !h.lastRunTime.IsZero() {
		resp.LastRunTime = h.lastRunTime.Format(time.RFC3339)
	}
	h.mu.RUnlock()

	resp.Sources = make([]string, 0, len(h.sources))
	for name := range h.sources {
		resp.Sources = append(resp.Sources, name)
	}
	sort.Strings(resp.Sources)
	resp.SourceItems = h.countItems(ctx)

	jobs, err := h.ingestService.RecentJobs(ctx, recentJobsLimit)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to list recent jobs: %v", err)
	}
	resp.RecentJobs = jobs

	logger.CtxDebug(ctx, "Ingest status requested: client_ip=%s, is_running=%v", c.ClientIP(), resp.IsRunning)
	c.JSON(http.StatusOK, resp)
}

// itemCounter is implemented by sources that know their size up front.
type itemCounter interface {
	GetTotalCount() (int, error)
}

func (h *AdminHandler) countItems(ctx context.Context) map[string]int {
	counts := map[string]int{}
	for name, src := range h.sources {
		counter, ok := src.(itemCounter)
		if !ok {
			continue
		}
		n, err := counter.GetTotalCount()
		if err != nil {
			logger.CtxWarn(ctx, "Failed to count source items: source=%s, error=%v", name, err)
			continue
		}
		counts[name] = n
	}
	return counts
}
