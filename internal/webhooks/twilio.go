// Package webhooks validates and parses provider callbacks into typed
// payloads. Nothing here touches storage; handlers hand the parsed values
// to the ingest service.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/sysutil"
)

var (
	// ErrInvalidSignature rejects callbacks whose authenticity check failed.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayload rejects callbacks missing required fields.
	ErrInvalidPayload = errors.New("invalid payload")
)

// HeaderTwilioSignature carries Twilio's request signature.
const HeaderTwilioSignature = "X-Twilio-Signature"

// TwilioSignature computes the signature Twilio sends for a form POST to
// fullURL: base64(HMAC-SHA1(authToken, fullURL + sorted key/value pairs)).
func TwilioSignature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), form[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateTwilioSignature checks signature against the expected value.
// An empty auth token never validates.
func ValidateTwilioSignature(authToken, signature, fullURL string, form url.Values) error {
	if authToken == "" || signature == "" {
		return ErrInvalidSignature
	}
	want := TwilioSignature(authToken, fullURL, form)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// TwilioRequestURL reconstructs the public URL Twilio signed. When baseURL
// is set (scheme://host[:port]) it wins; otherwise forwarded headers from
// the edge proxy are trusted, then the request itself.
func TwilioRequestURL(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// TwilioInbound is an inbound SMS or WhatsApp message.
type TwilioInbound struct {
	MessageSID  string
	AccountSID  string
	Channel     domain.Channel
	From        string // canonical phone, prefix stripped
	To          string
	Body        string
	ProfileName string // WhatsApp display name, when provided
	NumMedia    int
	Status      string // SmsStatus, e.g. "received"
}

// ParseTwilioInbound maps Twilio's inbound message form. The "whatsapp:"
// prefix on From selects the WhatsApp channel.
func ParseTwilioInbound(form url.Values) (*TwilioInbound, error) {
	sid := firstNonEmpty(form.Get("MessageSid"), form.Get("SmsMessageSid"), form.Get("SmsSid"))
	if sid == "" {
		return nil, fmt.Errorf("%w: MessageSid is required", ErrInvalidPayload)
	}
	rawFrom := strings.TrimSpace(form.Get("From"))
	if rawFrom == "" {
		return nil, fmt.Errorf("%w: From is required", ErrInvalidPayload)
	}

	from, isWhatsApp := channels.StripWhatsAppPrefix(rawFrom)
	phone, ok := domain.NormalizePhone(from)
	if !ok {
		return nil, fmt.Errorf("%w: From %q is not a phone number", ErrInvalidPayload, from)
	}
	to, _ := channels.StripWhatsAppPrefix(form.Get("To"))

	ch := domain.ChannelSMS
	if isWhatsApp {
		ch = domain.ChannelWhatsApp
	}
	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))

	return &TwilioInbound{
		MessageSID:  sid,
		AccountSID:  form.Get("AccountSid"),
		Channel:     ch,
		From:        phone,
		To:          to,
		Body:        form.Get("Body"),
		ProfileName: strings.TrimSpace(form.Get("ProfileName")),
		NumMedia:    numMedia,
		Status:      firstNonEmpty(form.Get("SmsStatus"), form.Get("MessageStatus")),
	}, nil
}

// TwilioStatus is a delivery receipt for a message we sent.
type TwilioStatus struct {
	MessageSID string
	Status     string
	Channel    domain.Channel
	ErrorCode  string
}

// ParseTwilioStatus maps Twilio's status callback form. The channel is
// WhatsApp when either address carries the "whatsapp:" prefix.
func ParseTwilioStatus(form url.Values) (*TwilioStatus, error) {
	sid := firstNonEmpty(form.Get("MessageSid"), form.Get("SmsSid"))
	if sid == "" {
		return nil, fmt.Errorf("%w: MessageSid is required", ErrInvalidPayload)
	}
	status := firstNonEmpty(form.Get("MessageStatus"), form.Get("SmsStatus"))
	if status == "" {
		return nil, fmt.Errorf("%w: MessageStatus is required", ErrInvalidPayload)
	}
	ch := domain.ChannelSMS
	_, fromWA := channels.StripWhatsAppPrefix(form.Get("From"))
	_, toWA := channels.StripWhatsAppPrefix(form.Get("To"))
	if fromWA || toWA {
		ch = domain.ChannelWhatsApp
	}
	return &TwilioStatus{
		MessageSID: sid,
		Status:     strings.ToLower(status),
		Channel:    ch,
		ErrorCode:  form.Get("ErrorCode"),
	}, nil
}

func firstNonEmpty(vals ...string) string {
	return strings.TrimSpace(sysutil.FirstNonEmpty(vals...))
}
