package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/unified-inbox/internal/channels"
	"github.com/tbourn/unified-inbox/internal/domain"
	"github.com/tbourn/unified-inbox/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func strp(s string) *string { return &s }

func seedUser(t *testing.T, db *gorm.DB, id string) *domain.User {
	t.Helper()
	u := &domain.User{ID: id, Name: id}
	if err := repo.EnsureUser(context.Background(), db, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedContact(t *testing.T, db *gorm.DB, phone, email *string) *domain.Contact {
	t.Helper()
	c := &domain.Contact{Phone: phone, Email: email}
	if err := repo.CreateContact(context.Background(), db, c); err != nil {
		t.Fatalf("seed contact: %v", err)
	}
	return c
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// fakeSender records calls and returns a canned result.
type fakeSender struct {
	ch  domain.Channel
	res *channels.Result
	err error

	mu    sync.Mutex
	calls []string // "to|content"
}

func (f *fakeSender) Channel() domain.Channel { return f.ch }

func (f *fakeSender) Send(_ context.Context, to, content string) (*channels.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, to+"|"+content)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeSender) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
