// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds request correlation, the JSON error envelope shared by
// every middleware that aborts, and panic recovery. LoggerFrom hands out the
// request-scoped logger that RedactingLogger attaches.
//
// Order matters: RequestID, then RedactingLogger, then Recovery, so that a
// recovered panic is logged with its correlation ID.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// requestIDKey is the Gin context key under which the request ID is stored.
	requestIDKey = "requestID"
	// requestIDHeader is the HTTP header used to propagate the correlation ID.
	requestIDHeader = "X-Request-ID"
	ctxKeyLogger    = "logger"
	ctxKeyErrorCode = "error.code"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// Inbound IDs end up in logs and provider-facing responses; anything else
// is replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._\-:]{1,128}$`)

// RequestID reuses a well-formed inbound X-Request-ID or generates a UUIDv4,
// then echoes it on the response and stores it in the context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID set by RequestID. Without that
// middleware it falls back to the response header, then to a well-formed
// inbound header, else "".
func RequestIDFrom(c *gin.Context) string {
	if rid := c.GetString(requestIDKey); rid != "" {
		return rid
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	if c.Request != nil {
		if rid := c.GetHeader(requestIDHeader); requestIDPattern.MatchString(rid) {
			return rid
		}
	}
	return ""
}

// SetErrorCode records the stable error code of a failed request so the
// access log and metrics can report it.
func SetErrorCode(c *gin.Context, code string) { c.Set(ctxKeyErrorCode, code) }

// ErrorCode returns the code recorded by SetErrorCode, or "".
func ErrorCode(c *gin.Context) string { return c.GetString(ctxKeyErrorCode) }

// abortError ends the request with the standard envelope
// {request_id, code, message}.
func abortError(c *gin.Context, status int, code, msg string) {
	SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

// Recovery turns panics into a logged stack trace and, when nothing was
// written yet, a JSON 500 internal_error.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				SetErrorCode(c, "internal_error")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global one outside
// RedactingLogger.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate cuts s to max bytes plus an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
