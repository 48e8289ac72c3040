// Webhook HTTP handlers.
//
//   - POST /webhooks/twilio          (inbound SMS and WhatsApp)
//   - POST /webhooks/twilio/status   (delivery receipts)
//   - POST /webhooks/email           (inbound email)
//
// Providers retry anything that is not 2xx, so every callback that was
// processed, including replays and receipts for unknown messages, is
// acknowledged with 200. Authenticity failures get 403 before storage is
// touched; malformed payloads get 400. Payload bodies are never logged.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/http/middleware"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/services"
	"github.com/tbourn/unified-inbox/internal/webhooks"
)

const (
	providerTwilio = "twilio"
	providerEmail  = "email"

	// maxWebhookBody bounds callback bodies.
	maxWebhookBody = 1 << 20
)

// WebhookOptions configures callback verification.
type WebhookOptions struct {
	// TwilioAuthToken signs Twilio callbacks.
	TwilioAuthToken string
	// TwilioBaseURL is the public scheme://host Twilio posts to; when empty
	// it is derived from the request and forwarded headers.
	TwilioBaseURL string
	// SkipTwilioSignature disables the signature check. Development only.
	SkipTwilioSignature bool
	// EmailSecret is compared with X-Webhook-Secret; empty disables it.
	EmailSecret string
}

// WebhookHandlers serves provider callbacks. They sit outside the
// authenticated API group.
type WebhookHandlers struct {
	ingest IngestService
	opts   WebhookOptions
	now    func() time.Time
}

// NewWebhooks constructs WebhookHandlers.
func NewWebhooks(ingest IngestService, opts WebhookOptions) *WebhookHandlers {
	return &WebhookHandlers{ingest: ingest, opts: opts, now: time.Now}
}

// WebhookAck is the success body returned to providers.
type WebhookAck struct {
	Success   bool   `json:"success"`
	Duplicate bool   `json:"duplicate,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

func webhookLog(c *gin.Context, provider string) *zerolog.Logger {
	l := middleware.LoggerFrom(c).With().Str("provider", provider).Logger()
	return &l
}

// reject answers a callback that will not be processed.
func reject(c *gin.Context, provider string, err error) {
	lg := webhookLog(c, provider)
	if errors.Is(err, webhooks.ErrInvalidSignature) {
		observability.RecordWebhook(provider, observability.OutcomeRejected)
		lg.Warn().Msg("webhook signature rejected")
		fail(c, http.StatusForbidden, ErrCodeInvalidSignature, "invalid signature")
		return
	}
	observability.RecordWebhook(provider, observability.OutcomeInvalid)
	lg.Warn().Err(err).Msg("webhook payload rejected")
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid payload")
}

// twilioForm reads and verifies a Twilio form POST.
func (h *WebhookHandlers) twilioForm(c *gin.Context) (url.Values, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	if err := c.Request.ParseForm(); err != nil {
		return nil, errors.Join(webhooks.ErrInvalidPayload, err)
	}
	form := c.Request.PostForm
	if h.opts.SkipTwilioSignature {
		return form, nil
	}
	fullURL := webhooks.TwilioRequestURL(c.Request, h.opts.TwilioBaseURL)
	sig := c.GetHeader(webhooks.HeaderTwilioSignature)
	if err := webhooks.ValidateTwilioSignature(h.opts.TwilioAuthToken, sig, fullURL, form); err != nil {
		return nil, err
	}
	return form, nil
}

// TwilioInbound godoc
// @ID          twilioInbound
// @Summary     Twilio inbound message webhook
// @Description Records an inbound SMS or WhatsApp message. Replays are acknowledged without writing.
// @Tags        Webhooks
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       X-Twilio-Signature  header  string  true  "Twilio request signature"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid payload"
// @Failure     403  {object}  handlers.ErrorResponse "Invalid signature"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /webhooks/twilio [post]
func (h *WebhookHandlers) TwilioInbound(c *gin.Context) {
	form, err := h.twilioForm(c)
	if err != nil {
		reject(c, providerTwilio, err)
		return
	}
	in, err := webhooks.ParseTwilioInbound(form)
	if err != nil {
		reject(c, providerTwilio, err)
		return
	}

	name := in.ProfileName
	if name == "" {
		name = in.From
	}
	meta := map[string]any{"accountSid": in.AccountSID, "to": in.To}
	if in.NumMedia > 0 {
		meta["numMedia"] = in.NumMedia
	}
	if in.ProfileName != "" {
		meta["profileName"] = in.ProfileName
	}

	res, err := h.ingest.Ingest(c.Request.Context(), services.InboundMessage{
		Channel:        in.Channel,
		Phone:          in.From,
		Name:           name,
		Content:        in.Body,
		ExternalID:     in.MessageSID,
		ProviderStatus: in.Status,
		Metadata:       meta,
		ReceivedAt:     h.now(),
	})
	h.ack(c, providerTwilio, res, err)
}

// TwilioStatus godoc
// @ID          twilioStatus
// @Summary     Twilio delivery status webhook
// @Description Moves the status of a message we sent forward. Unknown messages and stale receipts are acknowledged.
// @Tags        Webhooks
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Param       X-Twilio-Signature  header  string  true  "Twilio request signature"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid payload"
// @Failure     403  {object}  handlers.ErrorResponse "Invalid signature"
// @Router      /webhooks/twilio/status [post]
func (h *WebhookHandlers) TwilioStatus(c *gin.Context) {
	form, err := h.twilioForm(c)
	if err != nil {
		reject(c, providerTwilio, err)
		return
	}
	st, err := webhooks.ParseTwilioStatus(form)
	if err != nil {
		reject(c, providerTwilio, err)
		return
	}

	lg := webhookLog(c, providerTwilio)
	res, err := h.ingest.UpdateStatus(c.Request.Context(), st.MessageSID, st.Status, st.Channel)
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		observability.RecordWebhook(providerTwilio, observability.OutcomeStatus)
		lg.Debug().Str("message_sid", st.MessageSID).Msg("status for unknown message")
		ok(c, http.StatusOK, WebhookAck{Success: true})
		return
	case err != nil:
		observability.RecordWebhook(providerTwilio, observability.OutcomeError)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}

	observability.RecordWebhook(providerTwilio, observability.OutcomeStatus)
	if res.Message.Status == domain.StatusFailed && st.ErrorCode != "" {
		lg.Warn().Str("message_id", res.Message.ID).Str("error_code", st.ErrorCode).Msg("delivery failed")
	}
	ok(c, http.StatusOK, WebhookAck{Success: true, MessageID: res.Message.ID})
}

// EmailInbound godoc
// @ID          emailInbound
// @Summary     Inbound email webhook
// @Description Records an inbound email. The body is validated against a JSON schema.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
// @Param       X-Webhook-Secret  header  string  false "Shared secret, when configured"
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse "Invalid payload"
// @Failure     403  {object}  handlers.ErrorResponse "Invalid secret"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /webhooks/email [post]
func (h *WebhookHandlers) EmailInbound(c *gin.Context) {
	if err := webhooks.VerifySecret(h.opts.EmailSecret, c.GetHeader(webhooks.HeaderWebhookSecret)); err != nil {
		reject(c, providerEmail, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		reject(c, providerEmail, errors.Join(webhooks.ErrInvalidPayload, err))
		return
	}
	in, err := webhooks.ParseEmailInbound(body)
	if err != nil {
		reject(c, providerEmail, err)
		return
	}

	meta := map[string]any{}
	if len(in.To) > 0 {
		meta["to"] = in.To
	}
	if in.Subject != "" {
		meta["subject"] = in.Subject
	}

	res, err := h.ingest.Ingest(c.Request.Context(), services.InboundMessage{
		Channel:    domain.ChannelEmail,
		Email:      in.FromAddress,
		Name:       in.FromName,
		Content:    in.Content(),
		ExternalID: in.MessageID,
		Metadata:   meta,
		ReceivedAt: h.now(),
	})
	h.ack(c, providerEmail, res, err)
}

func (h *WebhookHandlers) ack(c *gin.Context, provider string, res *services.IngestResult, err error) {
	if err != nil {
		if errors.Is(err, services.ErrInvalidPhone) || errors.Is(err, services.ErrInvalidEmail) ||
			errors.Is(err, services.ErrInvalidChannel) {
			reject(c, provider, err)
			return
		}
		observability.RecordWebhook(provider, observability.OutcomeError)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
		return
	}

	if res.Duplicate {
		observability.RecordWebhook(provider, observability.OutcomeDuplicate)
		webhookLog(c, provider).Info().Str("message_id", res.Message.ID).Msg("webhook replay ignored")
	} else {
		observability.RecordWebhook(provider, observability.OutcomeCreated)
		webhookLog(c, provider).Info().
			Str("message_id", res.Message.ID).
			Str("channel", string(res.Message.Channel)).
			Bool("contact_created", res.ContactCreated).
			Bool("conversation_created", res.ConversationCreated).
			Msg("inbound message recorded")
	}
	ok(c, http.StatusOK, WebhookAck{Success: true, Duplicate: res.Duplicate, MessageID: res.Message.ID})
}
