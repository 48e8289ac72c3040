package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/unified-inbox/internal/domain"
)

func TestSearchService(t *testing.T) {
	db := newTestDB(t)
	ingest := &IngestService{DB: db}
	svc := &SearchService{DB: db, Stopwords: []string{"the"}}
	ctx := context.Background()

	bodies := []string{"Where is my order", "The order arrived broken", "Thanks, all good"}
	ids := map[string]string{}
	for i, b := range bodies {
		res, err := ingest.Ingest(ctx, InboundMessage{
			Channel: domain.ChannelSMS, Phone: "+1555000500" + string(rune('0'+i)), Content: b,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids[b] = res.Message.ID
	}

	hits, err := svc.Search(ctx, "order broken", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].MessageID != ids["The order arrived broken"] || hits[0].ConversationID == "" || hits[0].ContactID == "" {
		t.Fatalf("best hit: %+v", hits[0])
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores not descending: %+v", hits)
	}

	if _, err := svc.Search(ctx, "  ", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("empty query: %v", err)
	}
	none, err := svc.Search(ctx, "refund", 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("no match: %+v %v", none, err)
	}
}
