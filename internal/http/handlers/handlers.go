// Package handlers exposes the inbox over REST. Handlers are
// transport-thin: they bind and validate input, call the services through
// the interfaces below, and translate results and errors into responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/services"
)

//
// Service contracts (context-aware)
//

// ContactService manages the address book.
type ContactService interface {
	Create(ctx context.Context, in services.ContactInput) (*domain.Contact, error)
	Get(ctx context.Context, id string) (*domain.Contact, error)
	Update(ctx context.Context, id string, in services.ContactInput) (*domain.Contact, error)
	ListPage(ctx context.Context, search string, page, pageSize int) ([]domain.Contact, int64, error)
}

// NoteService stores internal notes on contacts.
type NoteService interface {
	Create(ctx context.Context, contactID, userID, content string) (*domain.Note, error)
	List(ctx context.Context, contactID string) ([]domain.Note, error)
}

// ConversationService implements triage.
type ConversationService interface {
	ListPage(ctx context.Context, userID string, q services.ConversationQuery) ([]services.ConversationSummary, int64, error)
	ListStats(ctx context.Context, userID string, q services.ConversationQuery) (int64, *time.Time, error)
	Stats(ctx context.Context, userID string) (repo.ConversationCounts, error)
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	Update(ctx context.Context, id, userID string, u services.ConversationUpdate) (*domain.Conversation, error)
	MarkRead(ctx context.Context, id string) (*domain.Conversation, error)
}

// MessageService reads message timelines.
type MessageService interface {
	ListPage(ctx context.Context, q services.MessageQuery) ([]domain.Message, int64, error)
	ListStats(ctx context.Context, q services.MessageQuery) (int64, *time.Time, error)
}

// SendService dispatches outbound messages.
type SendService interface {
	Send(ctx context.Context, req services.SendRequest) (*domain.Message, bool, error)
}

// UserService reads and renames team members.
type UserService interface {
	Get(ctx context.Context, id string) (*domain.User, error)
	Rename(ctx context.Context, id, name string) (*domain.User, error)
}

// SearchService ranks messages against a free-text query.
type SearchService interface {
	Search(ctx context.Context, query string, limit int) ([]services.SearchHit, error)
}

// IngestService records provider callbacks.
type IngestService interface {
	Ingest(ctx context.Context, in services.InboundMessage) (*services.IngestResult, error)
	UpdateStatus(ctx context.Context, externalID, providerStatus string, chs ...domain.Channel) (*services.StatusResult, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers.
type Services struct {
	Contacts      ContactService
	Notes         NoteService
	Conversations ConversationService
	Messages      MessageService
	Sender        SendService
	Users         UserService
	Search        SearchService
}

// Handlers groups the authenticated API endpoints.
type Handlers struct {
	contacts ContactService
	notes    NoteService
	convs    ConversationService
	msgs     MessageService
	sender   SendService
	users    UserService
	search   SearchService
}

// New constructs Handlers bound to s.
func New(s Services) *Handlers {
	return &Handlers{
		contacts: s.Contacts,
		notes:    s.Notes,
		convs:    s.Conversations,
		msgs:     s.Messages,
		sender:   s.Sender,
		users:    s.Users,
		search:   s.Search,
	}
}
