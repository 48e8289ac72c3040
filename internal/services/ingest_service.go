// Package services – IngestService
//
// IngestService turns parsed provider callbacks into ledger writes. Inbound
// messages are threaded onto a contact and a conversation in a single
// transaction; delivery receipts move the status of messages we sent.
//
// Provider retries are absorbed through the (channel, external_id) unique
// key: a replay is reported as a duplicate and writes nothing.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/observability"
	"github.com/tbourn/unified-inbox/internal/repo"
)

// InboundMessage is a provider-neutral inbound message. Phone is required
// for SMS and WhatsApp, Email for the email channel; both must already be
// normalized.
type InboundMessage struct {
	Channel        domain.Channel
	Phone          string
	Email          string
	Name           string
	Content        string
	ExternalID     string
	ProviderStatus string
	Metadata       map[string]any
	ReceivedAt     time.Time
}

// IngestResult describes what an ingest did.
type IngestResult struct {
	Message      *domain.Message
	Contact      *domain.Contact
	Conversation *domain.Conversation

	// Duplicate is set when the external ID was already recorded; nothing
	// was written and Message is the existing row.
	Duplicate           bool
	ContactCreated      bool
	ConversationCreated bool
}

// StatusResult describes the outcome of a delivery receipt.
type StatusResult struct {
	Message *domain.Message
	// Applied is false when the receipt would not move the status forward.
	Applied bool
}

// IngestService records inbound traffic and delivery receipts.
type IngestService struct {
	DB     *gorm.DB
	Events events.Publisher
}

// errReplay aborts the ingest transaction when the insert hits the
// external ID unique key.
var errReplay = errors.New("replayed external id")

// Ingest records one inbound message.
func (s *IngestService) Ingest(ctx context.Context, in InboundMessage) (*IngestResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("channel", string(in.Channel)),
			attribute.String("provider.message_id", in.ExternalID),
		),
	)
	defer span.End()

	if _, ok := domain.ParseChannel(string(in.Channel)); !ok {
		return nil, ErrInvalidChannel
	}
	if in.Channel.UsesPhone() && in.Phone == "" {
		return nil, ErrInvalidPhone
	}
	if in.Channel == domain.ChannelEmail && in.Email == "" {
		return nil, ErrInvalidEmail
	}
	extID := strings.TrimSpace(in.ExternalID)
	at := in.ReceivedAt.UTC()
	if in.ReceivedAt.IsZero() {
		at = time.Now().UTC()
	}

	if extID != "" {
		if m, err := repo.FindMessageByExternalID(ctx, s.DB, in.Channel, extID); err == nil {
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &IngestResult{Message: m, Duplicate: true}, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			contact *domain.Contact
			err     error
		)
		name := normalizeName(in.Name)
		if in.Channel.UsesPhone() {
			contact, res.ContactCreated, err = FindOrCreateContactByPhone(ctx, tx, in.Phone, name)
		} else {
			contact, res.ContactCreated, err = FindOrCreateContactByEmail(ctx, tx, in.Email, name)
		}
		if err != nil {
			return err
		}

		conv, created, err := GetOrCreateConversation(ctx, tx, contact.ID, at)
		if err != nil {
			return err
		}
		res.ConversationCreated = created
		if conv, err = recordActivity(ctx, tx, conv, at); err != nil {
			return err
		}

		m := &domain.Message{
			ConversationID: conv.ID,
			ContactID:      contact.ID,
			Channel:        in.Channel,
			Content:        in.Content,
			Direction:      domain.DirectionInbound,
			Status:         channels.MapStatus(in.ProviderStatus, domain.DirectionInbound),
			ExternalID:     optional(extID),
			Metadata:       meta,
			CreatedAt:      at,
		}
		if err := repo.CreateMessage(ctx, tx, m); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return errReplay
			}
			return err
		}
		if err := repo.TouchContact(ctx, tx, contact.ID, at); err != nil {
			return err
		}
		contact.LastContactedAt = &at

		res.Message, res.Contact, res.Conversation = m, contact, conv
		return nil
	})
	if errors.Is(err, errReplay) {
		// a concurrent delivery of the same callback committed first
		m, ferr := repo.FindMessageByExternalID(ctx, s.DB, in.Channel, extID)
		if ferr != nil {
			return nil, ferr
		}
		return &IngestResult{Message: m, Duplicate: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	observability.RecordMessage(string(in.Channel), string(domain.DirectionInbound))
	publish(ctx, s.Events,
		events.New(events.TypeMessageCreated, res.Message),
		events.New(events.TypeConversationUpdated, res.Conversation),
	)
	return res, nil
}

// UpdateStatus applies a delivery receipt to the message a provider knows
// as externalID on any of chs. Receipts never move a status backwards.
// An unknown message yields ErrMessageNotFound.
func (s *IngestService) UpdateStatus(ctx context.Context, externalID, providerStatus string, chs ...domain.Channel) (*StatusResult, error) {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("provider.message_id", externalID),
			attribute.String("provider.status", providerStatus),
		),
	)
	defer span.End()

	m, err := repo.FindMessageByProviderID(ctx, s.DB, strings.TrimSpace(externalID), chs...)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	next := channels.MapStatus(providerStatus, m.Direction)
	if !m.Status.CanAdvanceTo(next) {
		return &StatusResult{Message: m}, nil
	}
	if err := repo.UpdateMessageStatus(ctx, s.DB, m.ID, next); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	m.Status = next

	publish(ctx, s.Events, events.New(events.TypeMessageStatus, map[string]any{
		"messageId":      m.ID,
		"conversationId": m.ConversationID,
		"status":         m.Status,
	}))
	return &StatusResult{Message: m, Applied: true}, nil
}

func encodeMetadata(meta map[string]any) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// publish delivers events best effort.
func publish(ctx context.Context, p events.Publisher, evs ...events.Event) {
	if p == nil {
		return
	}
	for _, e := range evs {
		if err := p.Publish(ctx, e); err != nil {
			log.Warn().Err(err).Str("event", e.Type).Msg("event publish failed")
		}
	}
}
