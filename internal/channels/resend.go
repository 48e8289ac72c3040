package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/html"

	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/domain"
)

const (
	defaultResendBaseURL = "https://api.resend.com"
	defaultResendFrom    = "onboarding@resend.dev"

	// EmailSubject is used for every outbound email.
	EmailSubject = "Message from Unified Inbox"
)

// ResendSender sends email through the Resend HTTP API.
type ResendSender struct {
	cfg  config.ResendConfig
	opts HTTPOptions
}

// NewResend returns the email adapter. A missing API key is reported at
// send time as ErrProviderNotConfigured.
func NewResend(cfg config.ResendConfig, opts HTTPOptions) *ResendSender {
	return &ResendSender{cfg: cfg, opts: opts}
}

// Channel implements Sender.
func (s *ResendSender) Channel() domain.Channel { return domain.ChannelEmail }

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

type resendError struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

func describeResendError(raw []byte) string {
	var re resendError
	if json.Unmarshal(raw, &re) == nil && strings.TrimSpace(re.Message) != "" {
		if re.Name != "" {
			return fmt.Sprintf("resend: %s (%s)", re.Message, re.Name)
		}
		return "resend: " + re.Message
	}
	return "resend: " + truncate(string(raw), 512)
}

// renderHTML wraps plain content in a paragraph, escaping markup and
// keeping line breaks.
func renderHTML(content string) string {
	escaped := html.EscapeString(content)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}

// Send implements Sender.
func (s *ResendSender) Send(ctx context.Context, to, content string) (*Result, error) {
	ctx, span := otel.Tracer("channels/resend").Start(ctx, "Send")
	defer span.End()

	key := strings.TrimSpace(s.cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: resend api key", ErrProviderNotConfigured)
	}
	from := strings.TrimSpace(s.cfg.From)
	if from == "" {
		from = defaultResendFrom
	}

	body, err := json.Marshal(resendEmail{
		From:    from,
		To:      []string{strings.TrimSpace(to)},
		Subject: EmailSubject,
		Text:    content,
		HTML:    renderHTML(content),
	})
	if err != nil {
		return nil, &DispatchError{Channel: domain.ChannelEmail, Err: err}
	}

	base := strings.TrimRight(strings.TrimSpace(s.cfg.BaseURL), "/")
	if base == "" {
		base = defaultResendBaseURL
	}

	raw, err := do(ctx, domain.ChannelEmail, s.opts, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/emails", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+key)
		return req, nil
	}, describeResendError)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return nil, err
	}

	var out resendResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.ID == "" {
		derr := &DispatchError{Channel: domain.ChannelEmail, StatusCode: http.StatusOK, Err: fmt.Errorf("resend: unexpected response: %s", truncate(string(raw), 256))}
		span.RecordError(derr)
		return nil, derr
	}
	return &Result{
		ExternalID:     out.ID,
		ProviderStatus: "sent",
		Status:         domain.StatusSent,
	}, nil
}
