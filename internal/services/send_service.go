// Package services – SendService
//
// SendService orchestrates an outbound message: validate, pick the contact
// address for the channel, call the channel adapter and only then persist.
// A failed dispatch leaves no trace in the ledger and is not retried here;
// the caller may resubmit (optionally with the same Idempotency-Key).
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
)

// SenderRegistry resolves the adapter for a channel.
type SenderRegistry interface {
	Sender(ch domain.Channel) (channels.Sender, error)
}

// SendRequest is an outbound message from a team member.
type SendRequest struct {
	UserID    string
	ContactID string
	Channel   string
	Content   string

	// IdempotencyKey and IdempotencyScope enable replay protection when
	// both are set.
	IdempotencyKey   string
	IdempotencyScope string
}

// SendService dispatches and records outbound messages.
type SendService struct {
	DB      *gorm.DB
	Senders SenderRegistry
	Events  events.Publisher

	// MaxContentRunes caps the message body; 0 disables the check.
	MaxContentRunes int
	// IdempotencyTTL is how long a key replays its first result.
	IdempotencyTTL time.Duration
}

// Send dispatches req and records the resulting OUTBOUND message. replayed
// reports that the idempotency key had already been used and the stored
// message is returned without contacting the provider.
//
// Errors: ErrEmptyContent, ErrTooLong, ErrInvalidChannel, ErrContactNotFound,
// ErrMissingContactAttribute, ErrProviderNotConfigured and ErrDispatchFailed
// (the latter two wrap the adapter error).
func (s *SendService) Send(ctx context.Context, req SendRequest) (msg *domain.Message, replayed bool, err error) {
	tr := otel.Tracer("services/SendService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("contact.id", req.ContactID),
			attribute.String("user.id", req.UserID),
			attribute.String("channel", req.Channel),
		),
	)
	defer span.End()

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, false, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return nil, false, ErrTooLong
	}
	ch, ok := domain.ParseChannel(req.Channel)
	if !ok {
		return nil, false, ErrInvalidChannel
	}

	if m := s.replay(ctx, req); m != nil {
		span.SetAttributes(attribute.Bool("idempotency.replayed", true))
		return m, true, nil
	}

	contact, err := repo.GetContact(ctx, s.DB, req.ContactID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, ErrContactNotFound
	}
	if err != nil {
		return nil, false, err
	}
	to, err := destination(contact, ch)
	if err != nil {
		return nil, false, err
	}

	sender, err := s.Senders.Sender(ch)
	if err != nil {
		observability.RecordDispatchFailure(string(ch), "not_configured")
		return nil, false, fmt.Errorf("%w: %w", ErrProviderNotConfigured, err)
	}
	result, err := sender.Send(ctx, to, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		if errors.Is(err, channels.ErrProviderNotConfigured) {
			observability.RecordDispatchFailure(string(ch), "not_configured")
			return nil, false, err
		}
		reason := "provider_error"
		var derr *channels.DispatchError
		if errors.As(err, &derr) {
			reason = derr.Reason()
		}
		observability.RecordDispatchFailure(string(ch), reason)
		return nil, false, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	now := time.Now().UTC()
	var conv *domain.Conversation
	m := &domain.Message{
		ContactID: contact.ID,
		Channel:   ch,
		Content:   content,
		Direction: domain.DirectionOutbound,
		Status:    result.Status,
		UserID:    optional(req.UserID),
		CreatedAt: now,
	}
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if result.ExternalID != "" {
		m.ExternalID = &result.ExternalID
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, _, err := GetOrCreateConversation(ctx, tx, contact.ID, now)
		if err != nil {
			return err
		}
		if conv, err = recordActivity(ctx, tx, c, now); err != nil {
			return err
		}
		m.ConversationID = conv.ID
		if err := repo.CreateMessage(ctx, tx, m); err != nil {
			return err
		}
		return repo.TouchContact(ctx, tx, contact.ID, now)
	})
	if err != nil {
		// The provider accepted the message; only the ledger write failed.
		log.Error().Err(err).
			Str("channel", string(ch)).
			Str("external_id", result.ExternalID).
			Str("contact_id", contact.ID).
			Msg("outbound message sent but not recorded")
		span.RecordError(err)
		return nil, false, err
	}

	if req.IdempotencyKey != "" && req.IdempotencyScope != "" {
		if _, err := repo.CreateIdempotency(ctx, s.DB, req.UserID, req.IdempotencyScope, req.IdempotencyKey, m.ID, http.StatusCreated, s.ttl()); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("message_id", m.ID).Msg("idempotency record not stored")
		}
	}

	observability.RecordMessage(string(ch), string(domain.DirectionOutbound))
	publish(ctx, s.Events,
		events.New(events.TypeMessageCreated, m),
		events.New(events.TypeConversationUpdated, conv),
	)
	return m, false, nil
}

// replay returns the message recorded under req's idempotency key, if any.
func (s *SendService) replay(ctx context.Context, req SendRequest) *domain.Message {
	if req.IdempotencyKey == "" || req.IdempotencyScope == "" {
		return nil
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, req.UserID, req.IdempotencyScope, req.IdempotencyKey, time.Now().UTC())
	if err != nil || rec == nil {
		return nil
	}
	m, err := repo.GetMessage(ctx, s.DB, rec.ResourceID)
	if err != nil {
		return nil
	}
	return m
}

func (s *SendService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// destination returns the contact's address on ch.
func destination(c *domain.Contact, ch domain.Channel) (string, error) {
	var addr *string
	if ch.UsesPhone() {
		addr = c.Phone
	} else {
		addr = c.Email
	}
	if addr == nil || strings.TrimSpace(*addr) == "" {
		return "", ErrMissingContactAttribute
	}
	return *addr, nil
}
