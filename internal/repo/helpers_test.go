package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// openMem opens a private in-memory database with foreign keys enforced on
// every pooled connection.
func openMem(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// newRepoDB returns a fully migrated database.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := openMem(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newBareDB returns a database without any tables, for error paths.
func newBareDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openMem(t)
}

func strp(s string) *string { return &s }

func seedContact(t *testing.T, db *gorm.DB, phone string) *domain.Contact {
	t.Helper()
	c := &domain.Contact{Phone: strp(phone)}
	if err := CreateContact(context.Background(), db, c); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func seedConversation(t *testing.T, db *gorm.DB, contactID string, at time.Time) *domain.Conversation {
	t.Helper()
	c, err := CreateConversation(context.Background(), db, contactID, at)
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, conv *domain.Conversation, dir domain.Direction, content string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ConversationID: conv.ID,
		ContactID:      conv.ContactID,
		Channel:        domain.ChannelSMS,
		Content:        content,
		Direction:      dir,
		Status:         domain.StatusDelivered,
		CreatedAt:      at,
	}
	if err := CreateMessage(context.Background(), db, m); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}
