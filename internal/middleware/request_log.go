package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader     = "X-Request-ID"
	contextRequestIDKey = "requestID"
)

// RequestLogger stamps every request with an id and logs one line when it
// completes.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		attrs := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if user := UserFromContext(c); user != nil {
			attrs = append(attrs, "user_id", user.ID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request", attrs...)
		case status >= 400:
			logger.Warn("request", attrs...)
		default:
			logger.Info("request", attrs...)
		}
	}
}

func RequestID(c *gin.Context) string {
	return c.GetString(contextRequestIDKey)
}
