// Package services – ConversationService
//
// ConversationService implements inbox triage: listing the workspaces,
// dashboard counts, manual state changes, assignment and read tracking.
//
// The state machine is deliberately loose. Any of OPEN, WAITING and CLOSED
// can be set directly; new message activity always returns a conversation
// to OPEN (see IngestService and SendService). The only hard rule is the
// storage one: a contact has at most one non-CLOSED conversation, so
// reopening an old thread next to an active one is a conflict.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/events"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/utils"
)

// Conversation actions accepted by Update.
const (
	ActionAssign   = "assign"
	ActionUnassign = "unassign"
)

// ConversationQuery selects a page of conversations. Workspace accepts
// "unassigned" (alias "inbound"), "mine" (alias "my-work") or empty.
type ConversationQuery struct {
	Workspace string
	Channel   string
	State     string
	Page      int
	PageSize  int
}

// MessagePreview is the last message shown in a conversation list.
type MessagePreview struct {
	Content   string               `json:"content"`
	Channel   domain.Channel       `json:"channel"`
	Direction domain.Direction     `json:"direction"`
	Status    domain.MessageStatus `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
}

// ConversationSummary is a list entry.
type ConversationSummary struct {
	domain.Conversation
	LastMessage *MessagePreview `json:"lastMessage,omitempty"`
	UnreadCount int64           `json:"unreadCount"`
}

// ConversationUpdate is a PATCH body: either a state or an action.
type ConversationUpdate struct {
	State  *string
	Action *string
}

// previewRunes caps MessagePreview.Content.
const previewRunes = 140

// ConversationService manages conversation triage.
type ConversationService struct {
	DB     *gorm.DB
	Events events.Publisher
}

// Filter resolves q into a repository filter for userID.
func (s *ConversationService) Filter(userID string, q ConversationQuery) (repo.ConversationFilter, error) {
	f := repo.ConversationFilter{UserID: userID}
	switch strings.ToLower(strings.TrimSpace(q.Workspace)) {
	case "", "all":
	case "unassigned", "inbound":
		f.Workspace = repo.WorkspaceUnassigned
	case "mine", "my-work":
		f.Workspace = repo.WorkspaceMine
	default:
		return f, ErrInvalidFilter
	}
	if q.Channel != "" {
		ch, ok := domain.ParseChannel(q.Channel)
		if !ok {
			return f, ErrInvalidChannel
		}
		f.Channel = ch
	}
	if q.State != "" {
		st, ok := domain.ParseConversationState(q.State)
		if !ok {
			return f, ErrInvalidState
		}
		f.State = st
	}
	return f, nil
}

// ListPage returns a page of conversation summaries, most recent activity
// first.
func (s *ConversationService) ListPage(ctx context.Context, userID string, q ConversationQuery) ([]ConversationSummary, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("workspace", q.Workspace),
			attribute.Int("page", q.Page),
			attribute.Int("page_size", q.PageSize),
		),
	)
	defer span.End()

	f, err := s.Filter(userID, q)
	if err != nil {
		return nil, 0, err
	}
	offset, limit := utils.Window(q.Page, q.PageSize)

	total, err := repo.CountConversations(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []ConversationSummary{}, 0, nil
	}
	convs, err := repo.ListConversationsPage(ctx, s.DB, f, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]string, len(convs))
	for i := range convs {
		ids[i] = convs[i].ID
	}
	last, err := repo.LastMessages(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}
	unread, err := repo.UnreadCounts(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}

	out := make([]ConversationSummary, len(convs))
	for i, c := range convs {
		out[i] = ConversationSummary{Conversation: c, UnreadCount: unread[c.ID]}
		if m, ok := last[c.ID]; ok {
			out[i].LastMessage = &MessagePreview{
				Content:   clipRunes(m.Content, previewRunes),
				Channel:   m.Channel,
				Direction: m.Direction,
				Status:    m.Status,
				CreatedAt: m.CreatedAt,
			}
		}
	}
	return out, total, nil
}

// ListStats returns the count and latest update time of the conversations
// q selects, for conditional GETs.
func (s *ConversationService) ListStats(ctx context.Context, userID string, q ConversationQuery) (int64, *time.Time, error) {
	f, err := s.Filter(userID, q)
	if err != nil {
		return 0, nil, err
	}
	return repo.ConversationsStats(ctx, s.DB, f)
}

// Stats returns the dashboard counters for userID.
func (s *ConversationService) Stats(ctx context.Context, userID string) (repo.ConversationCounts, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Stats", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	return repo.CountConversationsByBucket(ctx, s.DB, userID)
}

// Get returns a conversation with its contact and assignee.
func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	c, err := repo.GetConversation(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

// Update applies a PATCH: an action takes precedence over a state.
func (s *ConversationService) Update(ctx context.Context, id, userID string, u ConversationUpdate) (*domain.Conversation, error) {
	if u.Action != nil {
		switch strings.ToLower(strings.TrimSpace(*u.Action)) {
		case ActionAssign:
			return s.Assign(ctx, id, userID)
		case ActionUnassign:
			return s.Unassign(ctx, id)
		default:
			return nil, ErrInvalidAction
		}
	}
	if u.State != nil {
		st, ok := domain.ParseConversationState(*u.State)
		if !ok {
			return nil, ErrInvalidState
		}
		return s.SetState(ctx, id, st)
	}
	return nil, ErrInvalidAction
}

// SetState moves a conversation to st.
func (s *ConversationService) SetState(ctx context.Context, id string, st domain.ConversationState) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "SetState",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.String("state", string(st)),
		),
	)
	defer span.End()

	return s.apply(ctx, id, map[string]any{"state": st})
}

// Assign gives the conversation to userID and returns it to OPEN.
func (s *ConversationService) Assign(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Assign",
		trace.WithAttributes(
			attribute.String("conversation.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	return s.apply(ctx, id, map[string]any{
		"assigned_to_id": userID,
		"state":          domain.StateOpen,
	})
}

// Unassign clears the assignee without touching the state.
func (s *ConversationService) Unassign(ctx context.Context, id string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "Unassign", trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	return s.apply(ctx, id, map[string]any{"assigned_to_id": nil})
}

// MarkRead records that the conversation has been read up to now.
func (s *ConversationService) MarkRead(ctx context.Context, id string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "MarkRead", trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	return s.apply(ctx, id, map[string]any{"last_read_at": time.Now().UTC()})
}

func (s *ConversationService) apply(ctx context.Context, id string, updates map[string]any) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateConversation(ctx, tx, id, updates); err != nil {
			switch {
			case errors.Is(err, repo.ErrNotFound):
				return ErrConversationNotFound
			case errors.Is(err, repo.ErrDuplicate):
				return ErrConversationConflict
			}
			return err
		}
		var err error
		out, err = repo.GetConversation(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, s.Events, events.New(events.TypeConversationUpdated, out))
	return out, nil
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
