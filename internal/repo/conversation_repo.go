// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique violations (e.g. a second active conversation for a contact)
//     are reported as ErrDuplicate.
//   - Other DB errors are propagated unchanged.
//
// Usage:
//
//	conv, err := repo.FindLatestConversation(ctx, tx, contactID)
//	if errors.Is(err, repo.ErrNotFound) {
//	    conv, err = repo.CreateConversation(ctx, tx, contactID, at)
//	}
//
// Threading rules (reopening, race recovery) live in the services package.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// Workspace selects a slice of the inbox.
type Workspace string

const (
	WorkspaceAll        Workspace = ""
	WorkspaceUnassigned Workspace = "unassigned"
	WorkspaceMine       Workspace = "mine"
)

// ConversationFilter narrows ListConversationsPage and CountConversations.
// Zero values mean "no restriction".
type ConversationFilter struct {
	Workspace Workspace
	UserID    string // required for WorkspaceMine
	Channel   domain.Channel
	State     domain.ConversationState
}

func (f ConversationFilter) scope(q *gorm.DB) *gorm.DB {
	switch f.Workspace {
	case WorkspaceUnassigned:
		q = q.Where("assigned_to_id IS NULL")
	case WorkspaceMine:
		q = q.Where("assigned_to_id = ?", f.UserID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Channel != "" {
		q = q.Where("EXISTS (SELECT 1 FROM messages m WHERE m.conversation_id = conversations.id AND m.channel = ?)", f.Channel)
	}
	return q
}

// CreateConversation inserts an OPEN conversation for contactID whose
// activity timestamp is at. A concurrent active conversation for the same
// contact yields ErrDuplicate.
func CreateConversation(ctx context.Context, db *gorm.DB, contactID string, at time.Time) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:            uuid.NewString(),
		ContactID:     contactID,
		State:         domain.StateOpen,
		LastMessageAt: at.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, translate(err)
	}
	return c, nil
}

// FindLatestConversation returns the contact's active (non-CLOSED)
// conversation if there is one, otherwise the most recently created closed
// one. ErrNotFound means the contact has never had a conversation.
func FindLatestConversation(ctx context.Context, db *gorm.DB, contactID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("CASE WHEN state <> 'CLOSED' THEN 0 ELSE 1 END").
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation fetches a conversation with its contact and assignee.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Preload("Contact").
		Preload("AssignedTo").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkConversationActivity records a new message at the given time and
// returns the conversation to OPEN.
func MarkConversationActivity(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":           domain.StateOpen,
			"last_message_at": at.UTC(),
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateConversation applies column updates to a conversation.
// Returns ErrNotFound if no row matched and ErrDuplicate when reopening
// would create a second active conversation for the contact.
func UpdateConversation(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations returns the number of conversations matching f.
func CountConversations(ctx context.Context, db *gorm.DB, f ConversationFilter) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Scopes(f.scope).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns conversations matching f, most recent
// activity first, with Contact and AssignedTo preloaded.
func ListConversationsPage(ctx context.Context, db *gorm.DB, f ConversationFilter, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Preload("Contact").
		Preload("AssignedTo").
		Scopes(f.scope).
		Order("last_message_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ConversationCounts is the dashboard breakdown of active work.
type ConversationCounts struct {
	Unassigned int64 `json:"unassigned"`
	Assigned   int64 `json:"assigned"`
	Waiting    int64 `json:"waiting"`
	Closed     int64 `json:"closed"`
}

// CountConversationsByBucket computes ConversationCounts in a single query.
// Unassigned and Assigned only count OPEN conversations; Assigned is scoped
// to userID.
func CountConversationsByBucket(ctx context.Context, db *gorm.DB, userID string) (ConversationCounts, error) {
	var out ConversationCounts
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Select(`
			COALESCE(SUM(CASE WHEN state = 'OPEN' AND assigned_to_id IS NULL THEN 1 ELSE 0 END), 0) AS unassigned,
			COALESCE(SUM(CASE WHEN state = 'OPEN' AND assigned_to_id = ? THEN 1 ELSE 0 END), 0) AS assigned,
			COALESCE(SUM(CASE WHEN state = 'WAITING' THEN 1 ELSE 0 END), 0) AS waiting,
			COALESCE(SUM(CASE WHEN state = 'CLOSED' THEN 1 ELSE 0 END), 0) AS closed`, userID).
		Scan(&out).Error
	return out, err
}

// LastMessages returns the newest message of each listed conversation,
// keyed by conversation ID. Conversations without messages are absent.
func LastMessages(ctx context.Context, db *gorm.DB, conversationIDs []string) (map[string]domain.Message, error) {
	out := make(map[string]domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id IN ?", conversationIDs).
		Where("created_at = (SELECT MAX(m2.created_at) FROM messages m2 WHERE m2.conversation_id = messages.conversation_id)").
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, m := range rows {
		if _, seen := out[m.ConversationID]; !seen {
			out[m.ConversationID] = m
		}
	}
	return out, nil
}

// UnreadCounts returns, per conversation, the number of inbound messages
// received after the conversation's LastReadAt (all of them when never read).
func UnreadCounts(ctx context.Context, db *gorm.DB, conversationIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID string
		Unread         int64
	}
	err := db.WithContext(ctx).
		Table("messages AS m").
		Select("m.conversation_id AS conversation_id, COUNT(*) AS unread").
		Joins("JOIN conversations c ON c.id = m.conversation_id").
		Where("m.conversation_id IN ?", conversationIDs).
		Where("m.direction = ?", domain.DirectionInbound).
		Where("c.last_read_at IS NULL OR m.created_at > c.last_read_at").
		Group("m.conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ConversationID] = r.Unread
	}
	return out, nil
}
