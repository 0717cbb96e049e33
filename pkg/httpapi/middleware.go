package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/marmos91/tenantfs/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, duration time.Duration)
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request through the application logger.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := "%s %s status=%d bytes=%d latency=%s client_ip=%s request_id=%s"
		args := []any{
			c.Request.Method, c.Request.URL.Path, status, c.Writer.Size(),
			time.Since(start), c.ClientIP(), c.GetString(requestIDKey),
		}
		if status >= http.StatusInternalServerError {
			logger.Warn(line, args...)
			return
		}
		logger.Debug(line, args...)
	}
}

// Metrics reports each request to obs. Routes are labelled by their
// pattern, not the concrete path. A nil observer disables the middleware.
func Metrics(obs RequestObserver) gin.HandlerFunc {
	if obs == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		obs.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Recovery turns panics into a 500 JSON error.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic serving %s %s (request_id=%s): %v",
			c.Request.Method, c.Request.URL.Path, c.GetString(requestIDKey), recovered)
		_ = c.Error(fmt.Errorf("panic: %v", recovered))
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
	})
}
