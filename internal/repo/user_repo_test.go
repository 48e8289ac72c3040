package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/unified-inbox/internal/domain"
)

func TestEnsureUser_InsertThenRefresh(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	if err := EnsureUser(ctx, db, &domain.User{ID: "u1", Name: "Ada", Email: strp("ada@example.com")}); err != nil {
		t.Fatalf("EnsureUser insert: %v", err)
	}
	got, err := GetUser(ctx, db, "u1")
	if err != nil || got.Name != "Ada" || got.Role != domain.RoleAgent {
		t.Fatalf("after insert: %+v %v", got, err)
	}

	// Empty name keeps the stored one; role is refreshed.
	if err := EnsureUser(ctx, db, &domain.User{ID: "u1", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("EnsureUser refresh: %v", err)
	}
	got, _ = GetUser(ctx, db, "u1")
	if got.Name != "Ada" || got.Role != domain.RoleAdmin || got.Email == nil {
		t.Fatalf("after refresh: %+v", got)
	}

	var n int64
	db.Model(&domain.User{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one user row, got %d", n)
	}
}

func TestUpdateUserName(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_ = EnsureUser(ctx, db, &domain.User{ID: "u1", Name: "Ada"})

	if err := UpdateUserName(ctx, db, "u1", "Ada L."); err != nil {
		t.Fatalf("UpdateUserName: %v", err)
	}
	got, _ := GetUser(ctx, db, "u1")
	if got.Name != "Ada L." {
		t.Fatalf("name = %q", got.Name)
	}
	if err := UpdateUserName(ctx, db, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
