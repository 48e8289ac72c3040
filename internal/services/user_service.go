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

// maxUserNameRunes bounds team member display names.
const maxUserNameRunes = 120

// Identity is what the authentication layer knows about the caller.
type Identity struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// UserService keeps team member records in sync with the identity provider.
type UserService struct {
	DB *gorm.DB
}

// Ensure upserts the user described by id.
func (s *UserService) Ensure(ctx context.Context, id Identity) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Ensure", trace.WithAttributes(attribute.String("user.id", id.ID)))
	defer span.End()

	if strings.TrimSpace(id.ID) == "" {
		return nil, ErrUserNotFound
	}
	u := &domain.User{
		ID:   id.ID,
		Name: normalizeName(id.Name),
		Role: domain.ParseRole(id.Role),
	}
	if utf8.RuneCountInString(u.Name) > maxUserNameRunes {
		u.Name = string([]rune(u.Name)[:maxUserNameRunes])
	}
	if e, ok := domain.NormalizeEmail(id.Email); ok {
		u.Email = &e
	}
	if err := repo.EnsureUser(ctx, s.DB, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Get", trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Rename sets the display name; it must be 1..120 runes after trimming.
func (s *UserService) Rename(ctx context.Context, id, name string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Rename", trace.WithAttributes(attribute.String("user.id", id)))
	defer span.End()

	name = normalizeName(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > maxUserNameRunes {
		return nil, ErrInvalidName
	}
	if err := repo.UpdateUserName(ctx, s.DB, id, name); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}
