// Package channels holds the outbound provider adapters (Twilio SMS,
// Twilio WhatsApp, Resend email) and the mapping from provider delivery
// statuses to domain.MessageStatus.
//
// Adapters are constructed from configuration and injected into the send
// service through a Registry; nothing in this package is global.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ErrProviderNotConfigured means an adapter lacks the credentials or
// sender identity it needs. It is an operator problem and is never retried.
var ErrProviderNotConfigured = errors.New("provider not configured")

// Result is what a provider reports for an accepted message.
type Result struct {
	ExternalID     string
	ProviderStatus string
	Status         domain.MessageStatus
}

// Sender dispatches content to a destination over one channel.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, to, content string) (*Result, error)
}

// DispatchError wraps a provider call that did not succeed. StatusCode is
// the provider HTTP status, or 0 when no response was received.
type DispatchError struct {
	Channel    domain.Channel
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("dispatch %s: http %d: %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dispatch %s: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Reason is a low-cardinality label for metrics.
func (e *DispatchError) Reason() string {
	switch {
	case e.StatusCode == 0:
		return "network"
	case e.StatusCode == 429:
		return "rate_limited"
	case e.StatusCode >= 500:
		return "provider_error"
	default:
		return "rejected"
	}
}

// Registry resolves the Sender for a channel.
type Registry struct {
	senders map[domain.Channel]Sender
}

// NewRegistry indexes senders by their channel. Later entries win.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[domain.Channel]Sender, len(senders))}
	for _, s := range senders {
		if s != nil {
			r.senders[s.Channel()] = s
		}
	}
	return r
}

// Sender returns the adapter for ch, or ErrProviderNotConfigured.
func (r *Registry) Sender(ch domain.Channel) (Sender, error) {
	if r != nil {
		if s, ok := r.senders[ch]; ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no adapter for %s", ErrProviderNotConfigured, ch)
}

// MapStatus normalizes a provider delivery status. Unknown values map to
// SENT for outbound traffic and DELIVERED for inbound.
func MapStatus(providerStatus string, dir domain.Direction) domain.MessageStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "accepted", "queued", "scheduled", "sending", "pending":
		return domain.StatusPending
	case "sent":
		return domain.StatusSent
	case "delivered", "received", "receiving":
		return domain.StatusDelivered
	case "read", "opened":
		return domain.StatusRead
	case "failed", "undelivered", "canceled", "bounced":
		return domain.StatusFailed
	}
	if dir == domain.DirectionInbound {
		return domain.StatusDelivered
	}
	return domain.StatusSent
}
