package services

import (
	"context"
	"errors"
	"testing"
)

func TestNoteService(t *testing.T) {
	db := newTestDB(t)
	svc := &NoteService{DB: db, MaxRunes: 10}
	ctx := context.Background()
	seedUser(t, db, "agent")
	c := seedContact(t, db, strp("+15550003333"), nil)

	if _, err := svc.Create(ctx, c.ID, "agent", "  "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("empty: %v", err)
	}
	if _, err := svc.Create(ctx, c.ID, "agent", "much too long for ten"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("long: %v", err)
	}
	if _, err := svc.Create(ctx, "missing", "agent", "hi"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("missing contact: %v", err)
	}

	n, err := svc.Create(ctx, c.ID, "agent", " VIP ")
	if err != nil || n.Content != "VIP" || n.UserID != "agent" {
		t.Fatalf("create: %#v %v", n, err)
	}
	notes, err := svc.List(ctx, c.ID)
	if err != nil || len(notes) != 1 || notes[0].User == nil {
		t.Fatalf("list: %#v %v", notes, err)
	}
	if _, err := svc.List(ctx, "missing"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("list missing: %v", err)
	}
}
