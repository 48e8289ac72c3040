// Package services – identity and thread resolution
//
// The helpers in this file run inside a caller's transaction. Each insert
// that can race with a concurrent request (a new contact, a new or reopened
// conversation) is wrapped in a nested transaction, which GORM turns into a
// SAVEPOINT. A unique violation then only rolls back the savepoint and the
// winner's row is read instead.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
)

// FindOrCreateContactByPhone returns the contact owning phone, creating it
// when absent. phone must already be normalized. name is only used on
// creation. created reports whether this call inserted the row.
func FindOrCreateContactByPhone(ctx context.Context, tx *gorm.DB, phone, name string) (c *domain.Contact, created bool, err error) {
	return findOrCreateContact(ctx, tx,
		func() (*domain.Contact, error) { return repo.FindContactByPhone(ctx, tx, phone) },
		&domain.Contact{Phone: &phone, Name: optional(name)},
	)
}

// FindOrCreateContactByEmail is FindOrCreateContactByPhone keyed by email.
func FindOrCreateContactByEmail(ctx context.Context, tx *gorm.DB, email, name string) (c *domain.Contact, created bool, err error) {
	return findOrCreateContact(ctx, tx,
		func() (*domain.Contact, error) { return repo.FindContactByEmail(ctx, tx, email) },
		&domain.Contact{Email: &email, Name: optional(name)},
	)
}

func findOrCreateContact(ctx context.Context, tx *gorm.DB, find func() (*domain.Contact, error), fresh *domain.Contact) (*domain.Contact, bool, error) {
	c, err := find()
	if err == nil {
		return c, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		return repo.CreateContact(ctx, sp, fresh)
	})
	switch {
	case err == nil:
		return fresh, true, nil
	case errors.Is(err, repo.ErrDuplicate):
		// lost the race; the other request's row is committed or visible now
		c, err = find()
		return c, false, err
	default:
		return nil, false, err
	}
}

// GetOrCreateConversation returns the conversation new activity for
// contactID belongs to: the active one if present, else the most recently
// created closed one (the caller's activity update reopens it), else a new
// OPEN conversation stamped at.
func GetOrCreateConversation(ctx context.Context, tx *gorm.DB, contactID string, at time.Time) (conv *domain.Conversation, created bool, err error) {
	return getOrCreateConversation(ctx, tx, contactID, at, func() (*domain.Conversation, error) {
		return repo.FindLatestConversation(ctx, tx, contactID)
	})
}

func getOrCreateConversation(ctx context.Context, tx *gorm.DB, contactID string, at time.Time, find func() (*domain.Conversation, error)) (*domain.Conversation, bool, error) {
	conv, err := find()
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		var cerr error
		conv, cerr = repo.CreateConversation(ctx, sp, contactID, at)
		return cerr
	})
	switch {
	case err == nil:
		return conv, true, nil
	case errors.Is(err, repo.ErrDuplicate):
		conv, err = find()
		return conv, false, err
	default:
		return nil, false, err
	}
}

// recordActivity stamps conv with a message at time at and returns it to
// OPEN. Reopening a closed conversation can collide with an active one
// created concurrently; the activity then moves to that one. The returned
// conversation is the one that was stamped.
func recordActivity(ctx context.Context, tx *gorm.DB, conv *domain.Conversation, at time.Time) (*domain.Conversation, error) {
	err := tx.Transaction(func(sp *gorm.DB) error {
		return repo.MarkConversationActivity(ctx, sp, conv.ID, at)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		active, ferr := repo.FindLatestConversation(ctx, tx, conv.ContactID)
		if ferr != nil {
			return nil, ferr
		}
		conv = active
		err = repo.MarkConversationActivity(ctx, tx, conv.ID, at)
	}
	if err != nil {
		return nil, err
	}
	conv.State = domain.StateOpen
	conv.LastMessageAt = at.UTC()
	return conv, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
