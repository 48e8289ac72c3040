package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/services"
)

// ---------- service stubs (func fields; nil means "not expected") ----------

type stubContacts struct {
	create func(context.Context, services.ContactInput) (*domain.Contact, error)
	get    func(context.Context, string) (*domain.Contact, error)
	update func(context.Context, string, services.ContactInput) (*domain.Contact, error)
	list   func(context.Context, string, int, int) ([]domain.Contact, int64, error)
}

func (s stubContacts) Create(ctx context.Context, in services.ContactInput) (*domain.Contact, error) {
	return s.create(ctx, in)
}
func (s stubContacts) Get(ctx context.Context, id string) (*domain.Contact, error) {
	return s.get(ctx, id)
}
func (s stubContacts) Update(ctx context.Context, id string, in services.ContactInput) (*domain.Contact, error) {
	return s.update(ctx, id, in)
}
func (s stubContacts) ListPage(ctx context.Context, q string, p, ps int) ([]domain.Contact, int64, error) {
	return s.list(ctx, q, p, ps)
}

type stubNotes struct {
	create func(context.Context, string, string, string) (*domain.Note, error)
	list   func(context.Context, string) ([]domain.Note, error)
}

func (s stubNotes) Create(ctx context.Context, contactID, userID, content string) (*domain.Note, error) {
	return s.create(ctx, contactID, userID, content)
}
func (s stubNotes) List(ctx context.Context, contactID string) ([]domain.Note, error) {
	return s.list(ctx, contactID)
}

type stubConvs struct {
	list      func(context.Context, string, services.ConversationQuery) ([]services.ConversationSummary, int64, error)
	listStats func(context.Context, string, services.ConversationQuery) (int64, *time.Time, error)
	stats     func(context.Context, string) (repo.ConversationCounts, error)
	get       func(context.Context, string) (*domain.Conversation, error)
	update    func(context.Context, string, string, services.ConversationUpdate) (*domain.Conversation, error)
	markRead  func(context.Context, string) (*domain.Conversation, error)
}

func (s stubConvs) ListPage(ctx context.Context, uid string, q services.ConversationQuery) ([]services.ConversationSummary, int64, error) {
	return s.list(ctx, uid, q)
}
func (s stubConvs) ListStats(ctx context.Context, uid string, q services.ConversationQuery) (int64, *time.Time, error) {
	if s.listStats == nil {
		return 0, nil, services.ErrInvalidFilter
	}
	return s.listStats(ctx, uid, q)
}
func (s stubConvs) Stats(ctx context.Context, uid string) (repo.ConversationCounts, error) {
	return s.stats(ctx, uid)
}
func (s stubConvs) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.get(ctx, id)
}
func (s stubConvs) Update(ctx context.Context, id, uid string, u services.ConversationUpdate) (*domain.Conversation, error) {
	return s.update(ctx, id, uid, u)
}
func (s stubConvs) MarkRead(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.markRead(ctx, id)
}

type stubMsgs struct {
	list      func(context.Context, services.MessageQuery) ([]domain.Message, int64, error)
	listStats func(context.Context, services.MessageQuery) (int64, *time.Time, error)
}

func (s stubMsgs) ListPage(ctx context.Context, q services.MessageQuery) ([]domain.Message, int64, error) {
	return s.list(ctx, q)
}
func (s stubMsgs) ListStats(ctx context.Context, q services.MessageQuery) (int64, *time.Time, error) {
	if s.listStats == nil {
		return 0, nil, services.ErrInvalidFilter
	}
	return s.listStats(ctx, q)
}

type stubSender struct {
	send func(context.Context, services.SendRequest) (*domain.Message, bool, error)
}

func (s stubSender) Send(ctx context.Context, req services.SendRequest) (*domain.Message, bool, error) {
	return s.send(ctx, req)
}

type stubUsers struct {
	get    func(context.Context, string) (*domain.User, error)
	rename func(context.Context, string, string) (*domain.User, error)
}

func (s stubUsers) Get(ctx context.Context, id string) (*domain.User, error) { return s.get(ctx, id) }
func (s stubUsers) Rename(ctx context.Context, id, name string) (*domain.User, error) {
	return s.rename(ctx, id, name)
}

type stubSearch struct {
	search func(context.Context, string, int) ([]services.SearchHit, error)
}

func (s stubSearch) Search(ctx context.Context, q string, limit int) ([]services.SearchHit, error) {
	return s.search(ctx, q, limit)
}

// ---------- plumbing ----------

// newAPI mounts h on a bare engine with the pieces handlers rely on:
// request IDs, a fixed caller and the idempotency validator.
func newAPI(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader(middleware.HeaderUserID); uid != "" {
			c.Set(middleware.CtxUserIDKey, uid)
		}
		c.Next()
	})
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))

	r.GET("/contacts", h.ListContacts)
	r.POST("/contacts", h.CreateContact)
	r.GET("/contacts/:id", h.GetContact)
	r.PATCH("/contacts/:id", h.UpdateContact)
	r.GET("/contacts/:id/notes", h.ListNotes)
	r.POST("/contacts/:id/notes", h.CreateNote)

	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/stats", h.ConversationStats)
	r.GET("/conversations/:id", h.GetConversation)
	r.PATCH("/conversations/:id", h.UpdateConversation)
	r.POST("/conversations/:id/read", h.MarkConversationRead)
	r.GET("/conversations/:id/messages", h.ListConversationMessages)

	r.POST("/messages/send", h.SendMessage)
	r.GET("/messages", h.ListMessages)

	r.GET("/me", h.GetMe)
	r.PATCH("/me", h.UpdateMe)
	r.GET("/search", h.Search)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, w.Body.String())
	}
	return v
}

func wantError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	er := decode[ErrorResponse](t, w)
	if er.Code != code {
		t.Fatalf("code = %q, want %q", er.Code, code)
	}
	if er.RequestID == "" {
		t.Fatalf("error envelope without request_id")
	}
}

func strp(s string) *string { return &s }
