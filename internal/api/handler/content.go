package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
	"github.com/timmy/newsagent/internal/service"
)

const maxTopK = 100

// RecordLookup finds full records persisted outside the index.
type RecordLookup interface {
	GetByID(ctx context.Context, id string) (*domain.ContentRecord, error)
}

// ContentHandler serves the content index endpoints.
type ContentHandler struct {
	index   *service.ContentIndex
	records RecordLookup
}

// NewContentHandler creates a new content handler.
// Parameters:
//   - index: content index answering every operation.
//   - records: optional full-record store used to seed similarity queries.
// Returns:
//   - *ContentHandler: initialized handler.
func NewContentHandler(index *service.ContentIndex, records RecordLookup) *ContentHandler {
	return &ContentHandler{index: index, records: records}
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query  string            `json:"query" binding:"required"`
	TopK   int               `json:"top_k" binding:"omitempty,min=1,max=100"`
	Filter map[string]string `json:"filter"`
}

// SearchResponse lists ranked results.
type SearchResponse struct {
	Query   string                 `json:"query"`
	Results []service.SearchResult `json:"results"`
	Total   int                    `json:"total"`
}

// ContentResponse is a record rebuilt from the index.
type ContentResponse struct {
	Record        *domain.ContentRecord `json:"record"`
	MissingFields []string              `json:"missing_fields,omitempty"`
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	results, err := h.index.Search(c.Request.Context(), req.Query, req.TopK, repository.Filter(req.Filter))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SearchResponse{Query: req.Query, Results: results, Total: len(results)})
}

// GetContent handles GET /api/v1/contents/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) GetContent(c *gin.Context) {
	got, err := h.index.Retrieve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ContentResponse{Record: got.Record}
	if got.Warning != nil {
		resp.MissingFields = got.Warning.MissingFields
	}
	c.JSON(http.StatusOK, resp)
}

// FindSimilar handles GET /api/v1/contents/:id/similar. The query record
// comes from the record store when it holds id, otherwise from the index.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) FindSimilar(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	topK := 0
	if raw := c.Query("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTopK {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be an integer between 1 and 100"})
			return
		}
		topK = n
	}

	record, err := h.lookup(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	results, err := h.index.FindSimilar(ctx, record, topK, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "results": results, "total": len(results)})
}

func (h *ContentHandler) lookup(ctx context.Context, id string) (*domain.ContentRecord, error) {
	if h.records != nil {
		record, err := h.records.GetByID(ctx, id)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			logger.CtxWarn(ctx, "Record store lookup failed, using index view: id=%s, error=%v", id, err)
		}
	}
	got, err := h.index.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	return got.Record, nil
}

// CreateContent handles POST /api/v1/contents.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) CreateContent(c *gin.Context) {
	var record domain.ContentRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	record.Normalize()

	id, err := h.index.Store(c.Request.Context(), &record)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// UpdateContent handles PUT /api/v1/contents/:id. The path id wins over
// any id in the body.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) UpdateContent(c *gin.Context) {
	var record domain.ContentRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	record.ID = c.Param("id")
	record.Normalize()

	id, err := h.index.Update(c.Request.Context(), &record)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// DeleteContent handles DELETE /api/v1/contents/:id. It always answers 200
// and reports whether an entry was removed.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) DeleteContent(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": h.index.Delete(c.Request.Context(), id)})
}

// GetStats handles GET /api/v1/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ContentHandler) GetStats(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
