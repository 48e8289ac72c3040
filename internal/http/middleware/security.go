// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// SecurityHeaders hardens JSON responses. Inbox payloads carry contact PII:
// the router marks them Private so shared caches never keep a copy while
// browsers can still revalidate list ETags.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS   bool          // only honored on HTTPS requests
	HSTSMaxAge   time.Duration // defaults to 180 days
	NoStore      bool          // Cache-Control: no-store plus legacy Pragma/Expires
	Private      bool          // Cache-Control: private, no-cache; ignored with NoStore
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies
}

// exposedHeaders are response headers browser clients of the inbox read.
var exposedHeaders = []string{requestIDHeader, HeaderIdempotencyReplayed, "ETag"}

// SecurityHeaders always sets nosniff, frame DENY and no-referrer, plus the
// optional headers selected by opt. Strict-Transport-Security is only sent
// when the request arrived over HTTPS, directly or per X-Forwarded-Proto.
//
// It also appends the inbox headers (X-Request-ID, Idempotency-Replayed,
// ETag) to Access-Control-Expose-Headers without duplicating entries.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int(opt.HSTSMaxAge.Seconds())
	if maxAge <= 0 {
		maxAge = int((180 * 24 * time.Hour).Seconds())
	}
	hsts := "max-age=" + strconv.Itoa(maxAge) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		switch {
		case opt.NoStore:
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		case opt.Private:
			h.Set("Cache-Control", "private, no-cache")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}

		h.Set("Access-Control-Expose-Headers", mergeExposed(h.Get("Access-Control-Expose-Headers")))

		c.Next()
	}
}

func mergeExposed(cur string) string {
	out := cur
	for _, name := range exposedHeaders {
		if containsToken(out, name) {
			continue
		}
		if out == "" {
			out = name
		} else {
			out += ", " + name
		}
	}
	return out
}

func containsToken(list, name string) bool {
	for _, p := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
