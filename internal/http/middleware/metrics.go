// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file feeds the HTTP collectors in the observability package. Labels
// stay bounded: the path label is the registered route template (raw path
// only for unmatched requests) and the error code label comes from the
// fixed set of envelope codes.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/observability"
)

// Metrics records per request:
//   - http_requests_total(method, path, status)
//   - http_request_duration_seconds(method, path)
//   - http_response_size_bytes(method, path), skipped for body-less replies
//   - http_errors_total(path, code) when an error envelope was sent
//
// and tracks http_requests_inflight while the handler runs.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		observability.HTTPInflight.Inc()
		defer observability.HTTPInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		observability.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		observability.HTTPLatency.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			observability.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
		}
		if code := ErrorCode(c); code != "" {
			observability.APIErrors.WithLabelValues(path, code).Inc()
		}
	}
}
