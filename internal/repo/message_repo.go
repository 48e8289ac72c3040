// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// ledger.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateMessage appends m to the ledger. A repeated (channel, external_id)
// pair yields ErrDuplicate. Metadata defaults to an empty JSON object.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if len(m.Metadata) == 0 {
		m.Metadata = datatypes.JSON(`{}`)
	}
	return translate(db.WithContext(ctx).Create(m).Error)
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMessageByExternalID returns the message a provider knows as externalID.
func FindMessageByExternalID(ctx context.Context, db *gorm.DB, ch domain.Channel, externalID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("channel = ? AND external_id = ?", ch, externalID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMessageByProviderID looks up a message by externalID on any of the
// given channels. Status callbacks from one provider may cover several.
func FindMessageByProviderID(ctx context.Context, db *gorm.DB, externalID string, channels ...domain.Channel) (*domain.Message, error) {
	var m domain.Message
	q := db.WithContext(ctx).Where("external_id = ?", externalID)
	if len(channels) > 0 {
		q = q.Where("channel IN ?", channels)
	}
	if err := q.Order("created_at DESC").First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MessageFilter selects messages by conversation or by contact.
type MessageFilter struct {
	ConversationID string
	ContactID      string
}

func (f MessageFilter) scope(q *gorm.DB) *gorm.DB {
	if f.ConversationID != "" {
		q = q.Where("conversation_id = ?", f.ConversationID)
	}
	if f.ContactID != "" {
		q = q.Where("contact_id = ?", f.ContactID)
	}
	return q
}

// CountMessages returns the number of messages matching f.
func CountMessages(ctx context.Context, db *gorm.DB, f MessageFilter) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Scopes(f.scope).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of messages ordered (CreatedAt ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, f MessageFilter, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Scopes(f.scope).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateMessageStatus overwrites the status of a message. Callers decide
// whether the transition is allowed.
func UpdateMessageStatus(ctx context.Context, db *gorm.DB, id string, status domain.MessageStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentMessages returns up to limit messages, newest first.
func RecentMessages(ctx context.Context, db *gorm.DB, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
