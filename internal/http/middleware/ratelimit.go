// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements a process-local token-bucket rate limiter for the
// agent API, keyed by caller identity with the client IP as fallback. Idle
// buckets are swept at most once per sweep interval.
//
// Requests flagged by IdempotencyValidator as replays skip the limiter: a
// retried send that was already delivered costs no provider call.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/unified-inbox/internal/observability"
)

// KeyFunc maps a request to a bucket identity of the form "<kind>:<id>".
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the authenticated user ("user:<id>") and falls back
// to the client IP ("ip:<addr>").
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if s := c.GetString(CtxUserIDKey); s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys by client IP only.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	limit rate.Limit
	burst int
	keyFn KeyFunc
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	idleTTL   time.Duration
	sweepEach time.Duration
	lastSweep time.Time
}

// NewRateLimiter refills rps tokens per second up to burst (at least 1).
// A nil keyFn means KeyByUserOrIP.
func NewRateLimiter(rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return &RateLimiter{
		limit:     rate.Limit(rps),
		burst:     max(burst, 1),
		keyFn:     keyFn,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		idleTTL:   10 * time.Minute,
		sweepEach: time.Minute,
	}
}

// limiter returns the bucket for key, creating it on first use. Buckets idle
// for idleTTL are dropped during the periodic sweep.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.sweepEach {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// retryAfter is the whole number of seconds until lim holds a token again,
// at least 1.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	if d == rate.InfDuration {
		// A zero-rate bucket never refills.
		return 1
	}
	return max(int(math.Ceil(d.Seconds())), 1)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Get(ctxKeyRateBypass)
	v, _ := b.(bool)
	return v
}

// Handler enforces the limit. Denied requests get 429 too_many_requests with
// a Retry-After derived from the bucket's refill rate.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		key := rl.keyFn(c)
		now := rl.now()
		lim := rl.limiter(key, now)
		if lim.AllowN(now, 1) {
			c.Next()
			return
		}

		kind, _, _ := strings.Cut(key, ":")
		observability.RateLimited.WithLabelValues(kind).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim, now)))
		abortError(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
