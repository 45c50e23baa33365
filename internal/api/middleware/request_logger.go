package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MilanSurkos/fakturomat/internal/logger"
)

// RequestLogger logs every request through the structured logger, at a level
// matching the response status.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"ip", c.ClientIP(),
			"latency", time.Since(start),
		}
		if query != "" {
			fields = append(fields, "query", query)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.L.Errorw("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			logger.L.Warnw("HTTP request", fields...)
		default:
			logger.L.Infow("HTTP request", fields...)
		}
	}
}
