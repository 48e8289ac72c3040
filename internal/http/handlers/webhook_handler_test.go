package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/services"
	"github.com/tbourn/unified-inbox/internal/webhooks"
)

const (
	testAuthToken = "twilio-token"
	testBaseURL   = "https://inbox.example.com"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:hdl_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

type webhookEnv struct {
	db  *gorm.DB
	rec *events.Recorder
	r   *gin.Engine
}

func newWebhookEnv(t *testing.T, opts WebhookOptions) *webhookEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	rec := &events.Recorder{}
	h := NewWebhooks(&services.IngestService{DB: db, Events: rec}, opts)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/webhooks/twilio", h.TwilioInbound)
	r.POST("/webhooks/twilio/status", h.TwilioStatus)
	r.POST("/webhooks/email", h.EmailInbound)
	return &webhookEnv{db: db, rec: rec, r: r}
}

func defaultWebhookOpts() WebhookOptions {
	return WebhookOptions{TwilioAuthToken: testAuthToken, TwilioBaseURL: testBaseURL, EmailSecret: "s3cret"}
}

// postTwilio signs form the way Twilio does unless sig is given.
func (e *webhookEnv) postTwilio(path string, form url.Values, sig ...string) *httptest.ResponseRecorder {
	signature := webhooks.TwilioSignature(testAuthToken, testBaseURL+path, form)
	if len(sig) > 0 {
		signature = sig[0]
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(webhooks.HeaderTwilioSignature, signature)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *webhookEnv) postEmail(body, secret string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/email", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(webhooks.HeaderWebhookSecret, secret)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *webhookEnv) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func inboundSMS(sid, from, body string) url.Values {
	return url.Values{
		"MessageSid": {sid},
		"AccountSid": {"AC1"},
		"From":       {from},
		"To":         {"+15550001111"},
		"Body":       {body},
		"SmsStatus":  {"received"},
		"NumMedia":   {"0"},
	}
}

func TestTwilioInbound_CreatesThreadAndDedupes(t *testing.T) {
	env := newWebhookEnv(t, defaultWebhookOpts())
	created := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeCreated))
	dups := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeDuplicate))

	w := env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "hello"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	ack := decode[WebhookAck](t, w)
	if !ack.Success || ack.Duplicate || ack.MessageID == "" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	var m domain.Message
	if err := env.db.First(&m, "id = ?", ack.MessageID).Error; err != nil {
		t.Fatalf("message not stored: %v", err)
	}
	if m.Direction != domain.DirectionInbound || m.Channel != domain.ChannelSMS || m.Content != "hello" {
		t.Fatalf("unexpected message %+v", m)
	}
	var ct domain.Contact
	if err := env.db.First(&ct, "id = ?", m.ContactID).Error; err != nil {
		t.Fatalf("contact not stored: %v", err)
	}
	if ct.Phone == nil || *ct.Phone != "+15551234567" || ct.Name == nil || *ct.Name != "+15551234567" {
		t.Fatalf("unexpected contact %+v", ct)
	}

	// Twilio retries with the same MessageSid.
	w = env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "hello"))
	if w.Code != http.StatusOK {
		t.Fatalf("replay status=%d", w.Code)
	}
	if again := decode[WebhookAck](t, w); !again.Duplicate || again.MessageID != ack.MessageID {
		t.Fatalf("unexpected replay ack %+v", again)
	}
	if n := env.count(t, &domain.Message{}); n != 1 {
		t.Fatalf("messages=%d after replay", n)
	}

	// A second message threads into the same conversation.
	env.postTwilio("/webhooks/twilio", inboundSMS("SM2", "+15551234567", "anyone there?"))
	if n := env.count(t, &domain.Conversation{}); n != 1 {
		t.Fatalf("conversations=%d", n)
	}
	if n := env.count(t, &domain.Contact{}); n != 1 {
		t.Fatalf("contacts=%d", n)
	}

	if got := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeCreated)) - created; got != 2 {
		t.Fatalf("created outcomes=%v", got)
	}
	if got := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeDuplicate)) - dups; got != 1 {
		t.Fatalf("duplicate outcomes=%v", got)
	}
}

func TestTwilioInbound_WhatsAppProfileName(t *testing.T) {
	env := newWebhookEnv(t, defaultWebhookOpts())
	form := inboundSMS("SMwa", "whatsapp:+447700900123", "hi")
	form.Set("To", "whatsapp:+15550001111")
	form.Set("ProfileName", "Grace")

	w := env.postTwilio("/webhooks/twilio", form)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var m domain.Message
	if err := env.db.First(&m).Error; err != nil {
		t.Fatal(err)
	}
	if m.Channel != domain.ChannelWhatsApp {
		t.Fatalf("channel=%s", m.Channel)
	}
	if !strings.Contains(string(m.Metadata), `"profileName":"Grace"`) {
		t.Fatalf("metadata=%s", m.Metadata)
	}
	var ct domain.Contact
	if err := env.db.First(&ct).Error; err != nil {
		t.Fatal(err)
	}
	if ct.Name == nil || *ct.Name != "Grace" || *ct.Phone != "+447700900123" {
		t.Fatalf("unexpected contact %+v", ct)
	}
}

func TestTwilioInbound_RejectsBeforeStorage(t *testing.T) {
	env := newWebhookEnv(t, defaultWebhookOpts())
	rejected := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeRejected))

	wantError(t, env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "x"), "bogus"), http.StatusForbidden, ErrCodeInvalidSignature)
	wantError(t, env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "x"), ""), http.StatusForbidden, ErrCodeInvalidSignature)

	// Signed for a different body.
	sig := webhooks.TwilioSignature(testAuthToken, testBaseURL+"/webhooks/twilio", inboundSMS("SM1", "+15551234567", "original"))
	wantError(t, env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "tampered"), sig), http.StatusForbidden, ErrCodeInvalidSignature)

	if got := testutil.ToFloat64(observability.WebhookEvents.WithLabelValues("twilio", observability.OutcomeRejected)) - rejected; got != 3 {
		t.Fatalf("rejected outcomes=%v", got)
	}

	// Signed but malformed.
	wantError(t, env.postTwilio("/webhooks/twilio", url.Values{"From": {"+15551234567"}}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.postTwilio("/webhooks/twilio", inboundSMS("SM9", "not-a-phone", "x")), http.StatusBadRequest, ErrCodeBadRequest)

	if n := env.count(t, &domain.Message{}); n != 0 {
		t.Fatalf("rejected callbacks stored %d messages", n)
	}
	if n := env.count(t, &domain.Contact{}); n != 0 {
		t.Fatalf("rejected callbacks stored %d contacts", n)
	}
}

func TestTwilioInbound_SkipSignature(t *testing.T) {
	opts := defaultWebhookOpts()
	opts.SkipTwilioSignature = true
	env := newWebhookEnv(t, opts)

	if w := env.postTwilio("/webhooks/twilio", inboundSMS("SM1", "+15551234567", "x"), ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}

func seedOutbound(t *testing.T, db *gorm.DB, extID string, status domain.MessageStatus) *domain.Message {
	t.Helper()
	ctx := context.Background()
	ct := &domain.Contact{Phone: strp("+15559876543")}
	if err := repo.CreateContact(ctx, db, ct); err != nil {
		t.Fatalf("contact: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, db, ct.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	m := &domain.Message{
		ConversationID: conv.ID,
		ContactID:      ct.ID,
		Channel:        domain.ChannelSMS,
		Content:        "your order shipped",
		Direction:      domain.DirectionOutbound,
		Status:         status,
		ExternalID:     strp(extID),
	}
	if err := repo.CreateMessage(ctx, db, m); err != nil {
		t.Fatalf("message: %v", err)
	}
	return m
}

func TestTwilioStatus_AdvancesAndAcksUnknown(t *testing.T) {
	env := newWebhookEnv(t, defaultWebhookOpts())
	m := seedOutbound(t, env.db, "SMout", domain.StatusSent)

	status := func(sid, st string) url.Values {
		return url.Values{"MessageSid": {sid}, "MessageStatus": {st}, "From": {"+15550001111"}, "To": {"+15559876543"}}
	}

	w := env.postTwilio("/webhooks/twilio/status", status("SMout", "delivered"))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ack := decode[WebhookAck](t, w); ack.MessageID != m.ID {
		t.Fatalf("unexpected ack %+v", ack)
	}
	var got domain.Message
	_ = env.db.First(&got, "id = ?", m.ID).Error
	if got.Status != domain.StatusDelivered {
		t.Fatalf("status=%s", got.Status)
	}

	// Late "sent" receipt does not move the status back.
	env.postTwilio("/webhooks/twilio/status", status("SMout", "sent"))
	_ = env.db.First(&got, "id = ?", m.ID).Error
	if got.Status != domain.StatusDelivered {
		t.Fatalf("status moved backwards to %s", got.Status)
	}

	w = env.postTwilio("/webhooks/twilio/status", status("SMunknown", "delivered"))
	if w.Code != http.StatusOK || !decode[WebhookAck](t, w).Success {
		t.Fatalf("unknown message status=%d body=%s", w.Code, w.Body.String())
	}

	types := env.rec.Types()
	if len(types) != 1 || types[0] != "message.status" {
		t.Fatalf("events=%v", types)
	}

	wantError(t, env.postTwilio("/webhooks/twilio/status", url.Values{"MessageSid": {"SMout"}}), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.postTwilio("/webhooks/twilio/status", status("SMout", "read"), "forged"), http.StatusForbidden, ErrCodeInvalidSignature)
}

func TestEmailInbound(t *testing.T) {
	env := newWebhookEnv(t, defaultWebhookOpts())
	body := `{"from":"Ada Lovelace <Ada@Example.com>","to":["support@inbox.example.com"],"subject":"Invoice","html":"<p>Hello<br>there</p>","messageId":"<abc@mail>"}`

	w := env.postEmail(body, "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	ack := decode[WebhookAck](t, w)

	var m domain.Message
	if err := env.db.First(&m, "id = ?", ack.MessageID).Error; err != nil {
		t.Fatal(err)
	}
	if m.Channel != domain.ChannelEmail || !strings.Contains(m.Content, "Hello") || strings.Contains(m.Content, "<p>") {
		t.Fatalf("unexpected message %+v", m)
	}
	if !strings.Contains(string(m.Metadata), `"subject":"Invoice"`) {
		t.Fatalf("metadata=%s", m.Metadata)
	}
	var ct domain.Contact
	if err := env.db.First(&ct, "id = ?", m.ContactID).Error; err != nil {
		t.Fatal(err)
	}
	if *ct.Email != "ada@example.com" || *ct.Name != "Ada Lovelace" {
		t.Fatalf("unexpected contact %+v", ct)
	}

	if again := decode[WebhookAck](t, env.postEmail(body, "s3cret")); !again.Duplicate {
		t.Fatalf("same messageId should be a duplicate: %+v", again)
	}

	wantError(t, env.postEmail(body, "wrong"), http.StatusForbidden, ErrCodeInvalidSignature)
	wantError(t, env.postEmail(body, ""), http.StatusForbidden, ErrCodeInvalidSignature)
	wantError(t, env.postEmail(`{"to":"x@y.z","text":"no sender"}`, "s3cret"), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.postEmail(`{"from":"ada@example.com"}`, "s3cret"), http.StatusBadRequest, ErrCodeBadRequest)
	wantError(t, env.postEmail(`not json`, "s3cret"), http.StatusBadRequest, ErrCodeBadRequest)

	if n := env.count(t, &domain.Message{}); n != 1 {
		t.Fatalf("messages=%d", n)
	}
}

func TestEmailInbound_NoSecretConfigured(t *testing.T) {
	opts := defaultWebhookOpts()
	opts.EmailSecret = ""
	env := newWebhookEnv(t, opts)
	if w := env.postEmail(`{"from":"bob@example.com","text":"hi"}`, ""); w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
}
