package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// CreateContact inserts c, assigning an ID and CreatedAt when missing.
// A phone or email already owned by another contact yields ErrDuplicate.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return translate(db.WithContext(ctx).Create(c).Error)
}

// GetContact fetches a contact by ID or returns ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContactByPhone looks up a contact by its normalized phone number.
func FindContactByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("phone = ?", phone).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// FindContactByEmail looks up a contact by its lowercased email address.
func FindContactByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("email = ?", email).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// contactSearch scopes a query to contacts whose name, email or phone
// contains term, case-insensitively.
func contactSearch(term string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		term = strings.TrimSpace(term)
		if term == "" {
			return q
		}
		like := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
		return q.Where(`LOWER(name) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\'`, like, like, like)
	}
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// CountContacts returns the number of contacts matching search.
func CountContacts(ctx context.Context, db *gorm.DB, search string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Scopes(contactSearch(search)).
		Count(&total).Error
	return total, err
}

// ListContactsPage returns contacts matching search, most recently contacted
// first. Contacts never contacted sort after the rest, newest first.
func ListContactsPage(ctx context.Context, db *gorm.DB, search string, offset, limit int) ([]domain.Contact, error) {
	var out []domain.Contact
	err := db.WithContext(ctx).
		Scopes(contactSearch(search)).
		Order("CASE WHEN last_contacted_at IS NULL THEN 1 ELSE 0 END").
		Order("last_contacted_at DESC").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateContact applies the given column updates. Unique violations map to
// ErrDuplicate; a missing row yields ErrNotFound.
func UpdateContact(ctx context.Context, db *gorm.DB, id string, updates map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
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

// TouchContact records activity with the contact at the given time.
func TouchContact(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", id).
		Update("last_contacted_at", at.UTC()).Error
}
