package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/tbourn/unified-inbox/internal/observability"
)

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(CtxUserIDKey, "agent-7")
	if got := KeyByUserOrIP()(c); got != "user:agent-7" {
		t.Fatalf("user key = %q", got)
	}
	if got := KeyByIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("KeyByIP ignores the user; got %q", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, nil)
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}
	if rl.keyFn == nil {
		t.Fatalf("nil keyFn not defaulted")
	}
	now := time.Now()
	if a, b := rl.limiter("k", now), rl.limiter("k", now); a != b {
		t.Fatalf("bucket not reused")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	rl.limiter("stale", t0)
	rl.limiter("busy", t0.Add(9*time.Minute))

	// Within the sweep interval nothing is evicted.
	rl.lastSweep = t0.Add(10 * time.Minute)
	rl.limiter("fresh", t0.Add(10*time.Minute+30*time.Second))
	if len(rl.buckets) != 3 {
		t.Fatalf("buckets = %d; want 3 before sweep", len(rl.buckets))
	}

	// Next sweep drops only buckets idle for idleTTL.
	rl.limiter("fresh", t0.Add(11*time.Minute))
	if _, ok := rl.buckets["stale"]; ok {
		t.Fatalf("idle bucket survived sweep")
	}
	for _, k := range []string{"busy", "fresh"} {
		if _, ok := rl.buckets[k]; !ok {
			t.Fatalf("active bucket %q evicted", k)
		}
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Now()

	slow := rate.NewLimiter(rate.Every(5*time.Second), 1)
	slow.AllowN(now, 1)
	if got := retryAfter(slow, now); got != 5 {
		t.Fatalf("retryAfter(1 per 5s) = %d; want 5", got)
	}
	// The probe must not consume the next token.
	if !slow.AllowN(now.Add(5*time.Second), 1) {
		t.Fatalf("retryAfter leaked a reservation")
	}

	fast := rate.NewLimiter(10, 1)
	fast.AllowN(now, 1)
	if got := retryAfter(fast, now); got != 1 {
		t.Fatalf("sub-second delay should round up to 1, got %d", got)
	}

	never := rate.NewLimiter(0, 1)
	never.AllowN(now, 1)
	if got := retryAfter(never, now); got != 1 {
		t.Fatalf("zero-rate bucket = %d; want 1", got)
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	if IsRateBypass(c) {
		t.Fatalf("bypass set by default")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("bypass not read")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool bypass should read false")
	}
}

func TestRateLimiter_Handler_Allow_Deny_And_Bypass(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP()) // one token every 2s
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }

	r := gin.New()
	r.Use(RequestID(), rl.Handler())
	r.POST("/messages/send", func(c *gin.Context) { c.String(http.StatusCreated, "ok") })

	send := func(rid string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/messages/send", nil)
		req.Header.Set(requestIDHeader, rid)
		r.ServeHTTP(w, req)
		return w
	}

	baseIP := testutil.ToFloat64(observability.RateLimited.WithLabelValues("ip"))

	if w := send("rid-1"); w.Code != http.StatusCreated {
		t.Fatalf("first request should pass, got %d", w.Code)
	}
	w := send("rid-2")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["request_id"] != "rid-2" {
		t.Fatalf("unexpected body: %v", body)
	}
	if got := testutil.ToFloat64(observability.RateLimited.WithLabelValues("ip")); got != baseIP+1 {
		t.Fatalf("http_rate_limited_total{ip} = %v; want %v", got, baseIP+1)
	}

	// After the refill interval the caller is let through again.
	fixed = fixed.Add(2 * time.Second)
	if w := send("rid-3"); w.Code != http.StatusCreated {
		t.Fatalf("request after refill should pass, got %d", w.Code)
	}

	// Replays skip the bucket entirely.
	rb := gin.New()
	rb.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() }, rl.Handler())
	rb.POST("/messages/send", func(c *gin.Context) { c.String(http.StatusCreated, "replayed") })
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		rb.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/messages/send", nil))
		if w.Code != http.StatusCreated {
			t.Fatalf("replay %d limited: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_Handler_ZeroRateRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(0, 1, KeyByIP())
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/conversations", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	var retry string
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations", nil))
		codes = append(codes, w.Code)
		retry = w.Header().Get("Retry-After")
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v; want [200 429]", codes)
	}
	if retry != "1" {
		t.Fatalf("Retry-After = %q; want 1 for a bucket that never refills", retry)
	}
}
