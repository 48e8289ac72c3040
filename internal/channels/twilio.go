package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/domain"
)

// WhatsAppPrefix marks WhatsApp addresses in the Twilio API.
const WhatsAppPrefix = "whatsapp:"

const defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioSender sends SMS or WhatsApp messages through the Twilio
// Messages API.
type TwilioSender struct {
	channel domain.Channel
	cfg     config.TwilioConfig
	opts    HTTPOptions
}

// NewTwilioSMS returns the SMS adapter. Missing credentials are reported
// at send time as ErrProviderNotConfigured.
func NewTwilioSMS(cfg config.TwilioConfig, opts HTTPOptions) *TwilioSender {
	return &TwilioSender{channel: domain.ChannelSMS, cfg: cfg, opts: opts}
}

// NewTwilioWhatsApp returns the WhatsApp adapter.
func NewTwilioWhatsApp(cfg config.TwilioConfig, opts HTTPOptions) *TwilioSender {
	return &TwilioSender{channel: domain.ChannelWhatsApp, cfg: cfg, opts: opts}
}

// Channel implements Sender.
func (s *TwilioSender) Channel() domain.Channel { return s.channel }

// twilioMessage is the subset of the Message resource we read.
type twilioMessage struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func describeTwilioError(raw []byte) string {
	var ae twilioAPIError
	if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Message) != "" {
		if ae.Code != 0 {
			return fmt.Sprintf("twilio: %s (code=%d)", ae.Message, ae.Code)
		}
		return "twilio: " + ae.Message
	}
	return "twilio: " + truncate(string(raw), 512)
}

// from returns the configured sender identity in Twilio's address form.
func (s *TwilioSender) from() string {
	if s.channel == domain.ChannelWhatsApp {
		return WithWhatsAppPrefix(s.cfg.WhatsAppFrom)
	}
	return strings.TrimSpace(s.cfg.SMSFrom)
}

// Send implements Sender. SMS uses bare E.164 numbers; WhatsApp prefixes
// both sender and recipient with "whatsapp:".
func (s *TwilioSender) Send(ctx context.Context, to, content string) (*Result, error) {
	ctx, span := otel.Tracer("channels/twilio").Start(ctx, "Send",
		trace.WithAttributes(attribute.String("channel", string(s.channel))))
	defer span.End()

	sid := strings.TrimSpace(s.cfg.AccountSID)
	token := strings.TrimSpace(s.cfg.AuthToken)
	if sid == "" || token == "" {
		return nil, fmt.Errorf("%w: twilio account sid/auth token", ErrProviderNotConfigured)
	}
	from := s.from()
	if from == "" || from == WhatsAppPrefix {
		return nil, fmt.Errorf("%w: twilio %s sender number", ErrProviderNotConfigured, strings.ToLower(string(s.channel)))
	}

	to = strings.TrimSpace(to)
	if s.channel == domain.ChannelWhatsApp {
		to = WithWhatsAppPrefix(to)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", content)

	base := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", base, url.PathEscape(sid))

	raw, err := do(ctx, s.channel, s.opts, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(sid, token)
		return req, nil
	}, describeTwilioError)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, err
	}

	var msg twilioMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.SID == "" {
		derr := &DispatchError{Channel: s.channel, StatusCode: http.StatusOK, Err: fmt.Errorf("twilio: unexpected response: %s", truncate(string(raw), 256))}
		span.RecordError(derr)
		return nil, derr
	}
	span.SetAttributes(attribute.String("provider.message_id", msg.SID))
	return &Result{
		ExternalID:     msg.SID,
		ProviderStatus: msg.Status,
		Status:         MapStatus(msg.Status, domain.DirectionOutbound),
	}, nil
}

// WithWhatsAppPrefix adds the "whatsapp:" scheme unless already present.
func WithWhatsAppPrefix(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.HasPrefix(strings.ToLower(addr), WhatsAppPrefix) {
		return addr
	}
	return WhatsAppPrefix + addr
}

// StripWhatsAppPrefix returns addr without the scheme and whether it had one.
func StripWhatsAppPrefix(addr string) (string, bool) {
	addr = strings.TrimSpace(addr)
	if len(addr) >= len(WhatsAppPrefix) && strings.EqualFold(addr[:len(WhatsAppPrefix)], WhatsAppPrefix) {
		return strings.TrimSpace(addr[len(WhatsAppPrefix):]), true
	}
	return addr, false
}
