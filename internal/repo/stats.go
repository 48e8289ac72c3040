// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// Stats queries feed the ETag validators on list endpoints: a list's ETag
// changes whenever its row count or newest UpdatedAt does.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ConversationsStats returns the number of conversations matching f and the
// greatest UpdatedAt among them, their messages and their contacts (nil when
// there are none). Message and contact rows count because the list renders
// previews and contact details from them.
func ConversationsStats(ctx context.Context, db *gorm.DB, f ConversationFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	convs := func() *gorm.DB { return db.WithContext(ctx).Model(&domain.Conversation{}).Scopes(f.scope) }
	count, maxUpdatedAt, err = latestStats(convs())
	if err != nil || count == 0 {
		return count, maxUpdatedAt, err
	}
	related := []*gorm.DB{
		db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id IN (?)", convs().Select("id")),
		db.WithContext(ctx).Model(&domain.Contact{}).Where("id IN (?)", convs().Select("contact_id")),
	}
	for _, q := range related {
		ts, err := newestUpdate(q)
		if err != nil {
			return 0, nil, err
		}
		if ts != nil && ts.After(*maxUpdatedAt) {
			maxUpdatedAt = ts
		}
	}
	return count, maxUpdatedAt, nil
}

// MessagesStats returns the number of messages matching f and the greatest
// UpdatedAt among them (nil when there are none).
func MessagesStats(ctx context.Context, db *gorm.DB, f MessageFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Scopes(f.scope)
	return latestStats(q)
}

// latestStats counts q and reads its newest updated_at.
func latestStats(q *gorm.DB) (int64, *time.Time, error) {
	var n int64
	if err := q.Session(&gorm.Session{}).Count(&n).Error; err != nil || n == 0 {
		return 0, nil, err
	}
	ts, err := newestUpdate(q)
	if err != nil {
		return 0, nil, err
	}
	return n, ts, nil
}

// newestUpdate orders rather than using MAX(), which glebarez/sqlite hands
// back as TEXT. Returns nil when q matches nothing.
func newestUpdate(q *gorm.DB) (*time.Time, error) {
	var newest struct{ UpdatedAt time.Time }
	res := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&newest)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &newest.UpdatedAt, nil
}
