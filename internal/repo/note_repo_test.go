package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/unified-inbox/internal/domain"
)

func TestCreateNote_Error_NoTable(t *testing.T) {
	db := newBareDB(t)
	if _, err := CreateNote(context.Background(), db, "c1", "u1", "hi"); err == nil {
		t.Fatal("expected error when notes table is missing")
	}
}

func TestCreateNote_AndList(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	if err := EnsureUser(ctx, db, &domain.User{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	c := seedContact(t, db, "+15550000400")

	start := time.Now().UTC().Add(-time.Second)
	first, err := CreateNote(ctx, db, c.ID, "u1", "called back")
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if first.ID == "" || first.CreatedAt.Before(start) {
		t.Fatalf("unexpected note: %+v", first)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := CreateNote(ctx, db, c.ID, "u1", "prefers email")
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	notes, err := ListNotes(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 2 || notes[0].ID != second.ID || notes[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", notes)
	}
	if notes[0].User == nil || notes[0].User.Name != "Ada" {
		t.Fatalf("author not preloaded: %+v", notes[0])
	}
}

func TestCreateNote_UnknownContact(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()
	_ = EnsureUser(ctx, db, &domain.User{ID: "u1"})
	if _, err := CreateNote(ctx, db, "missing", "u1", "x"); err == nil {
		t.Fatal("expected foreign key error for unknown contact")
	}
}
