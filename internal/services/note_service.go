package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
)

// NoteService manages internal notes on contacts.
type NoteService struct {
	DB *gorm.DB

	// MaxRunes caps note length; 0 disables the check.
	MaxRunes int
}

// Create appends a note by userID to the contact.
func (s *NoteService) Create(ctx context.Context, contactID, userID, content string) (*domain.Note, error) {
	tr := otel.Tracer("services/NoteService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("contact.id", contactID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxRunes > 0 && utf8.RuneCountInString(content) > s.MaxRunes {
		return nil, ErrTooLong
	}
	if _, err := repo.GetContact(ctx, s.DB, contactID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return repo.CreateNote(ctx, s.DB, contactID, userID, content)
}

// List returns the contact's notes, newest first.
func (s *NoteService) List(ctx context.Context, contactID string) ([]domain.Note, error) {
	tr := otel.Tracer("services/NoteService")
	ctx, span := tr.Start(ctx, "List", trace.WithAttributes(attribute.String("contact.id", contactID)))
	defer span.End()

	if _, err := repo.GetContact(ctx, s.DB, contactID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return repo.ListNotes(ctx, s.DB, contactID)
}
