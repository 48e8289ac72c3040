// Package services – MessageService
//
// MessageService reads the ledger: a conversation's thread or a contact's
// full timeline across conversations, oldest first.
package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/utils"
)

// MessageQuery selects a timeline. Exactly one of ConversationID and
// ContactID is required; ConversationID wins when both are set.
type MessageQuery struct {
	ConversationID string
	ContactID      string
	Page           int
	PageSize       int
}

// MessageService lists ledger entries.
type MessageService struct {
	DB *gorm.DB
}

func (s *MessageService) filter(ctx context.Context, q MessageQuery) (repo.MessageFilter, error) {
	switch {
	case q.ConversationID != "":
		if _, err := repo.GetConversation(ctx, s.DB, q.ConversationID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return repo.MessageFilter{}, ErrConversationNotFound
			}
			return repo.MessageFilter{}, err
		}
		return repo.MessageFilter{ConversationID: q.ConversationID}, nil
	case q.ContactID != "":
		if _, err := repo.GetContact(ctx, s.DB, q.ContactID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return repo.MessageFilter{}, ErrContactNotFound
			}
			return repo.MessageFilter{}, err
		}
		return repo.MessageFilter{ContactID: q.ContactID}, nil
	}
	return repo.MessageFilter{}, ErrInvalidFilter
}

// ListPage returns a page of the selected timeline.
func (s *MessageService) ListPage(ctx context.Context, q MessageQuery) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", q.ConversationID),
			attribute.String("contact.id", q.ContactID),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	f, err := s.filter(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	offset, limit := utils.Window(q.Page, q.PageSize)

	total, err := repo.CountMessages(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, f, offset, limit)
	return items, total, err
}

// ListStats returns the count and latest update of the selected timeline,
// for conditional GETs.
func (s *MessageService) ListStats(ctx context.Context, q MessageQuery) (int64, *time.Time, error) {
	f, err := s.filter(ctx, q)
	if err != nil {
		return 0, nil, err
	}
	return repo.MessagesStats(ctx, s.DB, f)
}
