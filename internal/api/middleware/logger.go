package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/timmy/newsagent/internal/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// LoggerMiddleware returns a Gin middleware that injects a request-scoped logger.
// An incoming X-Request-ID is reused; otherwise a new one is generated.
// Health probes are logged at debug level.
// Parameters:
//   - log: base logger to enrich with request fields.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		requestID := req.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logger.WithFields(log.WithContext(req.Context()), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = req.WithContext(ctx)

		c.Next()

		target := req.URL.Path
		if req.URL.RawQuery != "" {
			target += "?" + req.URL.RawQuery
		}
		status := c.Writer.Status()
		entry := logger.With(logger.Fields{
			logger.FieldStatus:     status,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
		})

		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(ctx, "%s %s client_ip=%s", req.Method, target, c.ClientIP())
		case status >= http.StatusBadRequest:
			entry.Warn(ctx, "%s %s client_ip=%s", req.Method, target, c.ClientIP())
		case c.FullPath() == "/health":
			entry.Debug(ctx, "%s %s", req.Method, target)
		default:
			entry.Info(ctx, "%s %s client_ip=%s", req.Method, target, c.ClientIP())
		}
	}
}
