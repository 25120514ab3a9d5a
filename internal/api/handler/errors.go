package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/newsagent/internal/domain"
	"github.com/timmy/newsagent/internal/logger"
	"github.com/timmy/newsagent/internal/repository"
)

// statusFor maps an index error to an HTTP status. Embedding failures are
// checked first because a failed store carries both the embedding and the
// write kind.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidContent), errors.Is(err, repository.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmbeddingFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIndexRead), errors.Is(err, domain.ErrIndexWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.CtxError(c.Request.Context(), "Request failed: path=%s, error=%v", c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
