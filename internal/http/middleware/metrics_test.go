package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/unified-inbox/internal/observability"
)

func TestMetrics_RequestsErrorsAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestID(), Metrics())
	r.GET("/contacts/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.PATCH("/conversations/:id", func(c *gin.Context) {
		abortError(c, http.StatusConflict, "invalid_transition", "conversation is closed")
	})
	r.POST("/conversations/:id/read", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseOK := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("GET", "/contacts/:id", "200"))
	base404 := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("GET", "/nope/123", "404"))
	baseConflict := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("PATCH", "/conversations/:id", "409"))
	baseErr := testutil.ToFloat64(observability.APIErrors.WithLabelValues("/conversations/:id", "invalid_transition"))

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/contacts/c1", http.StatusOK},
		{http.MethodGet, "/contacts/c2", http.StatusOK}, // same route label
		{http.MethodGet, "/nope/123", http.StatusNotFound},
		{http.MethodPatch, "/conversations/v1", http.StatusConflict},
		{http.MethodPost, "/conversations/v1/read", http.StatusNoContent},
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s -> %d, want %d", tc.method, tc.path, w.Code, tc.want)
		}
	}

	if got := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("GET", "/contacts/:id", "200")); got != baseOK+2 {
		t.Fatalf("route template counter = %v; want %v", got, baseOK+2)
	}
	if got := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("GET", "/nope/123", "404")); got != base404+1 {
		t.Fatalf("unmatched path counter = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(observability.HTTPRequests.WithLabelValues("PATCH", "/conversations/:id", "409")); got != baseConflict+1 {
		t.Fatalf("409 counter = %v; want %v", got, baseConflict+1)
	}
	if got := testutil.ToFloat64(observability.APIErrors.WithLabelValues("/conversations/:id", "invalid_transition")); got != baseErr+1 {
		t.Fatalf("http_errors_total = %v; want %v", got, baseErr+1)
	}
	if inFlight := testutil.ToFloat64(observability.HTTPInflight); inFlight != 0 {
		t.Fatalf("inflight gauge = %v; want 0", inFlight)
	}
}
