// Package services – ContactService
//
// ContactService validates and normalizes contact details before they reach
// the store. Phones are reduced to their digits (with optional leading "+"),
// emails are lowercased, names are NFC-normalized with whitespace collapsed.
// A contact must keep at least one of phone or email at all times.
package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/utils"
)

// maxNameRunes caps contact display names.
const maxNameRunes = 255

// ContactInput carries user-supplied contact fields. On update, a nil field
// is left unchanged and an empty string clears it.
type ContactInput struct {
	Name  *string
	Email *string
	Phone *string
}

// ContactService manages contacts.
type ContactService struct {
	DB *gorm.DB
}

// Create validates in and inserts a contact.
func (s *ContactService) Create(ctx context.Context, in ContactInput) (*domain.Contact, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	c := &domain.Contact{}
	if err := applyContactInput(c, in); err != nil {
		return nil, err
	}
	if c.Phone == nil && c.Email == nil {
		return nil, ErrContactIdentityRequired
	}
	if err := repo.CreateContact(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrContactConflict
		}
		return nil, err
	}
	return c, nil
}

// Get returns a contact by ID.
func (s *ContactService) Get(ctx context.Context, id string) (*domain.Contact, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("contact.id", id)))
	defer span.End()

	c, err := repo.GetContact(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrContactNotFound
	}
	return c, err
}

// Update applies a partial edit. Clearing both phone and email is rejected.
func (s *ContactService) Update(ctx context.Context, id string, in ContactInput) (*domain.Contact, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("contact.id", id)))
	defer span.End()

	var out *domain.Contact
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := repo.GetContact(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrContactNotFound
		}
		if err != nil {
			return err
		}
		if err := applyContactInput(c, in); err != nil {
			return err
		}
		if c.Phone == nil && c.Email == nil {
			return ErrContactIdentityRequired
		}

		updates := map[string]any{
			"name":  c.Name,
			"email": c.Email,
			"phone": c.Phone,
		}
		if err := repo.UpdateContact(ctx, tx, id, updates); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				return ErrContactConflict
			}
			if errors.Is(err, repo.ErrNotFound) {
				return ErrContactNotFound
			}
			return err
		}
		out, err = repo.GetContact(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPage returns contacts matching search, most recently contacted first.
func (s *ContactService) ListPage(ctx context.Context, search string, page, pageSize int) ([]domain.Contact, int64, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := utils.Window(page, pageSize)
	total, err := repo.CountContacts(ctx, s.DB, search)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Contact{}, 0, nil
	}
	items, err := repo.ListContactsPage(ctx, s.DB, search, offset, limit)
	return items, total, err
}

// applyContactInput normalizes the non-nil fields of in onto c.
func applyContactInput(c *domain.Contact, in ContactInput) error {
	if in.Name != nil {
		name := normalizeName(*in.Name)
		if utf8.RuneCountInString(name) > maxNameRunes {
			return ErrInvalidName
		}
		c.Name = optional(name)
	}
	if in.Email != nil {
		if strings.TrimSpace(*in.Email) == "" {
			c.Email = nil
		} else {
			e, ok := domain.NormalizeEmail(*in.Email)
			if !ok {
				return ErrInvalidEmail
			}
			c.Email = &e
		}
	}
	if in.Phone != nil {
		if strings.TrimSpace(*in.Phone) == "" {
			c.Phone = nil
		} else {
			p, ok := domain.NormalizePhone(*in.Phone)
			if !ok {
				return ErrInvalidPhone
			}
			c.Phone = &p
		}
	}
	return nil
}

// normalizeName applies NFC and collapses runs of whitespace.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

