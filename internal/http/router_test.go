package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/repo"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fakeSMS accepts every message and hands out sequential provider IDs.
type fakeSMS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSMS) Channel() domain.Channel { return domain.ChannelSMS }

func (f *fakeSMS) Send(_ context.Context, to, content string) (*channels.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to+"|"+content)
	return &channels.Result{
		ExternalID:     fmt.Sprintf("SMout%d", len(f.calls)),
		ProviderStatus: "queued",
		Status:         domain.StatusSent,
	}, nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      50,
		IdempotencyTTL: time.Hour,
		SearchMaxDocs:  100,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
		Providers: config.ProvidersConfig{
			Twilio: config.TwilioConfig{SkipSignature: true},
		},
	}
}

func newServer(t *testing.T, cfg config.Config, senders ...channels.Sender) (*gin.Engine, *gorm.DB, *events.Recorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	rec := &events.Recorder{}
	RegisterRoutes(r, Deps{DB: db, Senders: channels.NewRegistry(senders...), Events: rec}, cfg)
	return r, db, rec
}

func call(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	ctype := "application/json"
	switch b := body.(type) {
	case nil:
	case url.Values:
		rdr = strings.NewReader(b.Encode())
		ctype = "application/x-www-form-urlencoded"
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", ctype)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return m
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newServer(t, baseConfig())

	// /health works
	w := call(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || decodeMap(t, w)["db"] != "up" {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("request id or security headers missing: %v", w.Header())
	}
	if got := w.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Fatalf("Cache-Control = %q", got)
	}

	// /metrics is wired and exposes the inbox collectors
	w = call(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	// NoRoute → 404 envelope
	w = call(t, r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound || decodeMap(t, w)["code"] != "not_found" {
		t.Fatalf("GET /nope = %d %s", w.Code, w.Body.String())
	}

	// NoMethod → 405 (POST /health)
	w = call(t, r, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger stays off unless enabled
	if w = call(t, r, http.MethodGet, "/swagger/index.html", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger served while disabled: %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r, _, _ := newServer(t, cfg)

	w := call(t, r, http.MethodGet, "/swagger/doc.json", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/messages/send") {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newServer(t, cfg)

	w := call(t, r, http.MethodGet, "/health", nil, "Origin", "http://example.com")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
	if w = call(t, r, http.MethodGet, "/api/v2/me", nil); w.Code != http.StatusOK {
		t.Fatalf("API not mounted at custom base path: %d", w.Code)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	r, db, _ := newServer(t, baseConfig())
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	w := call(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable || decodeMap(t, w)["db"] != "down" {
		t.Fatalf("GET /health = %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_BearerTokenRequiredWhenSecretSet(t *testing.T) {
	cfg := baseConfig()
	cfg.Auth = config.AuthConfig{JWTSecret: "test-secret", JWTIssuer: "inbox"}
	r, db, _ := newServer(t, cfg)

	w := call(t, r, http.MethodGet, "/api/v1/me", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	// Dev header is ignored once tokens are on.
	if w = call(t, r, http.MethodGet, "/api/v1/me", nil, "X-User-ID", "agent-1"); w.Code != http.StatusUnauthorized {
		t.Fatalf("dev header accepted: %d", w.Code)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "agent-1",
		"name":  "Ada",
		"email": "Ada@Example.com",
		"role":  "admin",
		"iss":   "inbox",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	w = call(t, r, http.MethodGet, "/api/v1/me", nil, "Authorization", "Bearer "+signed)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /me = %d %s", w.Code, w.Body.String())
	}
	me := decodeMap(t, w)
	if me["id"] != "agent-1" || me["name"] != "Ada" || me["role"] != "ADMIN" || me["email"] != "ada@example.com" {
		t.Fatalf("unexpected user %v", me)
	}

	var n int64
	db.Model(&domain.User{}).Count(&n)
	if n != 1 {
		t.Fatalf("users=%d", n)
	}

	// Webhooks never need a user token.
	w = call(t, r, http.MethodPost, "/webhooks/twilio", url.Values{
		"MessageSid": {"SM1"}, "From": {"+15551234567"}, "Body": {"hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook behind auth: %d", w.Code)
	}
}

func TestInboxFlow_InboundTriageReply(t *testing.T) {
	sms := &fakeSMS{}
	r, db, rec := newServer(t, baseConfig(), sms)
	agent := []string{"X-User-ID", "agent-1"}

	// 1) A customer texts in.
	w := call(t, r, http.MethodPost, "/webhooks/twilio", url.Values{
		"MessageSid": {"SMin1"}, "From": {"+1 (555) 123-4567"}, "To": {"+15550001111"}, "Body": {"Where is my order?"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %s", w.Code, w.Body.String())
	}

	// 2) It shows up in the unassigned workspace, unread.
	w = call(t, r, http.MethodGet, "/api/v1/conversations?workspace=inbound", nil, agent...)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}
	var list struct {
		Conversations []struct {
			ID          string `json:"id"`
			ContactID   string `json:"contactId"`
			UnreadCount int64  `json:"unreadCount"`
			LastMessage *struct {
				Content string `json:"content"`
			} `json:"lastMessage"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].UnreadCount != 1 ||
		list.Conversations[0].LastMessage == nil || list.Conversations[0].LastMessage.Content != "Where is my order?" {
		t.Fatalf("unexpected list %s", w.Body.String())
	}
	convID, contactID := list.Conversations[0].ID, list.Conversations[0].ContactID

	// Same listing again is a 304.
	etag := w.Header().Get("ETag")
	if w = call(t, r, http.MethodGet, "/api/v1/conversations?workspace=inbound", nil, "X-User-ID", "agent-1", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// 3) The agent takes it.
	if w = call(t, r, http.MethodPatch, "/api/v1/conversations/"+convID, map[string]string{"action": "assign"}, agent...); w.Code != http.StatusOK {
		t.Fatalf("assign = %d %s", w.Code, w.Body.String())
	}
	w = call(t, r, http.MethodGet, "/api/v1/conversations/stats", nil, agent...)
	if stats := decodeMap(t, w); stats["assigned"] != float64(1) || stats["unassigned"] != float64(0) {
		t.Fatalf("stats %v", stats)
	}

	// 4) Reply, then retry the same request.
	send := map[string]string{"contactId": contactID, "channel": "SMS", "content": "It ships today."}
	w1 := call(t, r, http.MethodPost, "/api/v1/messages/send", send, "X-User-ID", "agent-1", "Idempotency-Key", "reply-1")
	w2 := call(t, r, http.MethodPost, "/api/v1/messages/send", send, "X-User-ID", "agent-1", "Idempotency-Key", "reply-1")
	if w1.Code != http.StatusCreated || w2.Code != http.StatusCreated {
		t.Fatalf("send = %d / %d (%s)", w1.Code, w2.Code, w2.Body.String())
	}
	if w2.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("retry not marked as replay")
	}
	if sms.count() != 1 {
		t.Fatalf("provider called %d times", sms.count())
	}
	if sms.calls[0] != "+15551234567|It ships today." {
		t.Fatalf("unexpected dispatch %q", sms.calls[0])
	}
	out := decodeMap(t, w1)
	if out["direction"] != "OUTBOUND" || out["status"] != "SENT" || out["conversationId"] != convID {
		t.Fatalf("unexpected outbound %v", out)
	}

	// 5) Twilio reports delivery.
	w = call(t, r, http.MethodPost, "/webhooks/twilio/status", url.Values{
		"MessageSid": {"SMout1"}, "MessageStatus": {"delivered"}, "To": {"+15551234567"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status webhook = %d", w.Code)
	}
	var m domain.Message
	if err := db.First(&m, "id = ?", out["id"]).Error; err != nil {
		t.Fatal(err)
	}
	if m.Status != domain.StatusDelivered {
		t.Fatalf("status = %s", m.Status)
	}

	// 6) The thread reads oldest first; reading it clears the unread count.
	w = call(t, r, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", nil, agent...)
	var thread struct {
		Messages []domain.Message `json:"messages"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &thread)
	if len(thread.Messages) != 2 || thread.Messages[0].Direction != domain.DirectionInbound {
		t.Fatalf("thread %s", w.Body.String())
	}
	if w = call(t, r, http.MethodPost, "/api/v1/conversations/"+convID+"/read", nil, agent...); w.Code != http.StatusOK {
		t.Fatalf("read = %d", w.Code)
	}

	// 7) Search finds the inbound text.
	w = call(t, r, http.MethodGet, "/api/v1/search?q=order", nil, agent...)
	if !strings.Contains(w.Body.String(), "Where is my order?") {
		t.Fatalf("search %s", w.Body.String())
	}

	types := strings.Join(rec.Types(), ",")
	for _, want := range []string{"message.created", "conversation.updated", "message.status"} {
		if !strings.Contains(types, want) {
			t.Fatalf("event %s not published: %s", want, types)
		}
	}
}

func TestSend_ProviderNotConfigured(t *testing.T) {
	r, db, _ := newServer(t, baseConfig()) // no adapters
	c := &domain.Contact{Email: strPtr("bob@example.com")}
	if err := repo.CreateContact(context.Background(), db, c); err != nil {
		t.Fatal(err)
	}

	w := call(t, r, http.MethodPost, "/api/v1/messages/send", map[string]string{"contactId": c.ID, "channel": "EMAIL", "content": "hi"})
	if w.Code != http.StatusServiceUnavailable || decodeMap(t, w)["code"] != "provider_not_configured" {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}

	// SMS to an email-only contact fails before any provider lookup.
	w = call(t, r, http.MethodPost, "/api/v1/messages/send", map[string]string{"contactId": c.ID, "channel": "SMS", "content": "hi"})
	if w.Code != http.StatusBadRequest || decodeMap(t, w)["code"] != "missing_contact_attribute" {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}

	var n int64
	db.Model(&domain.Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("failed sends recorded %d messages", n)
	}
}

func strPtr(s string) *string { return &s }

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
