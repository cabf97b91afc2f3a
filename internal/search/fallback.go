package search

import (
	"context"
	"fmt"
	"strings"

	"zimupdates/internal/store"
)

const snippetLength = 160

// StoreSearch answers queries with a case-insensitive title match against
// the record store. It is used when Meilisearch is absent or unhealthy.
type StoreSearch struct {
	store store.RecordStore
}

func NewStoreSearch(s store.RecordStore) *StoreSearch {
	return &StoreSearch{store: s}
}

func (s *StoreSearch) Healthy() bool {
	return s.store != nil
}

func (s *StoreSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	q = normalizeQuery(q)
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []Result{}, 0, nil
	}

	query := store.Query{
		Where:  []store.Condition{{Field: "title", Op: store.OpLike, Value: text}},
		Sort:   "-createdAt",
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	records, err := s.store.Query(ctx, store.Updates, query)
	if err != nil {
		return nil, 0, fmt.Errorf("search updates: %w", err)
	}
	total, err := s.store.Count(ctx, store.Updates, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count updates: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, rec := range records {
		doc := ToRecord(rec)
		results = append(results, Result{
			ID:        doc.ID,
			Title:     doc.Title,
			Slug:      doc.Slug,
			Snippet:   truncate(doc.Body, snippetLength),
			CreatedAt: doc.CreatedAt,
		})
	}
	return results, total, nil
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
