// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Note model.
//
// Notes are append-only: there is no update or delete. Foreign keys tie each
// note to its contact (cascade on delete) and its author.
//
// Functions:
//
//   - CreateNote(ctx, db, contactID, userID, content) -> *domain.Note, error
//     Inserts a note with a UUID primary key and UTC timestamp.
//
//   - ListNotes(ctx, db, contactID) -> []domain.Note, error
//     Returns the contact's notes, newest first, with the author preloaded.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateNote inserts a note written by userID about contactID.
func CreateNote(ctx context.Context, db *gorm.DB, contactID, userID, content string) (*domain.Note, error) {
	n := &domain.Note{
		ID:        uuid.NewString(),
		ContactID: contactID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// ListNotes returns all notes for a contact ordered by CreatedAt DESC.
func ListNotes(ctx context.Context, db *gorm.DB, contactID string) ([]domain.Note, error) {
	var out []domain.Note
	err := db.WithContext(ctx).
		Preload("User").
		Where("contact_id = ?", contactID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}
