package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/repo"
	"github.com/tbourn/unified-inbox/internal/search"
)

// SearchHit is a message matching a search query.
type SearchHit struct {
	MessageID      string  `json:"messageId"`
	ConversationID string  `json:"conversationId"`
	ContactID      string  `json:"contactId"`
	Snippet        string  `json:"snippet"`
	Score          float64 `json:"score"`
}

// SearchService ranks recent messages against a free-text query.
type SearchService struct {
	DB *gorm.DB

	// MaxDocs is how many of the newest messages are searched.
	MaxDocs int
	// Stopwords are ignored in queries and messages.
	Stopwords []string
}

// Search returns up to limit hits, best first. The index is built per call
// over the MaxDocs newest messages.
func (s *SearchService) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("query", query),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = 10
	}
	maxDocs := s.MaxDocs
	if maxDocs <= 0 {
		maxDocs = 5000
	}

	msgs, err := repo.RecentMessages(ctx, s.DB, maxDocs)
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, len(msgs))
	byID := make(map[string]int, len(msgs))
	for i, m := range msgs {
		docs[i] = search.Document{ID: m.ID, Text: m.Content}
		byID[m.ID] = i
	}

	opts := []search.Option{}
	if len(s.Stopwords) > 0 {
		opts = append(opts, search.WithStopwords(s.Stopwords))
	}
	results := search.NewIndex(docs, opts...).TopK(query, limit)
	span.SetAttributes(attribute.Int("hits", len(results)))

	out := make([]SearchHit, 0, len(results))
	for _, r := range results {
		m := msgs[byID[r.ID]]
		out = append(out, SearchHit{
			MessageID:      m.ID,
			ConversationID: m.ConversationID,
			ContactID:      m.ContactID,
			Snippet:        r.Snippet,
			Score:          r.Score,
		})
	}
	return out, nil
}
