package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zimupdates/internal/store"
)

func lexicalDoc(text string) map[string]any {
	return map[string]any{
		"root": map[string]any{
			"type": "root",
			"children": []any{
				map[string]any{
					"type": "paragraph",
					"children": []any{
						map[string]any{"type": "text", "text": text, "format": float64(1)},
					},
				},
			},
		},
	}
}

func TestToRecordFlattensContent(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := store.Record{
		ID:        7,
		Data:      map[string]any{"title": "School term", "slug": "school-term", "content": lexicalDoc("Grades are in")},
		CreatedAt: created,
	}

	doc := ToRecord(rec)
	assert.Equal(t, UpdateRecord{
		ID:        7,
		Title:     "School term",
		Slug:      "school-term",
		Body:      "Grades are in",
		CreatedAt: "2024-03-01T10:00:00Z",
	}, doc)
}

func TestToRecordHandlesHTMLAndBrokenContent(t *testing.T) {
	doc := ToRecord(store.Record{ID: 1, Data: map[string]any{"content": "<p>Hello <b>there</b></p><p>again</p>"}})
	assert.Equal(t, "Hello there again", doc.Body)

	doc = ToRecord(store.Record{ID: 2, Data: map[string]any{"content": map[string]any{"root": "nope"}}})
	assert.Empty(t, doc.Body)
}

func TestStoreSearchMatchesTitles(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, title := range []string{"Spring Camp", "Winter news", "Camp photos"} {
		_, err := mem.Create(ctx, store.Updates, map[string]any{"title": title, "slug": title})
		require.NoError(t, err)
	}

	results, total, err := NewStoreSearch(mem).Search(ctx, Query{Text: "camp"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	titles := []string{results[0].Title, results[1].Title}
	assert.ElementsMatch(t, []string{"Spring Camp", "Camp photos"}, titles)

	results, total, err = NewStoreSearch(mem).Search(ctx, Query{Text: "camp", Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 1)

	results, total, err = NewStoreSearch(mem).Search(ctx, Query{Text: "  "})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, results)
}

type stubSearcher struct {
	results []Result
	err     error
}

func (s stubSearcher) Search(context.Context, Query) ([]Result, int, error) {
	return s.results, len(s.results), s.err
}

func (stubSearcher) Healthy() bool { return true }

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, stubSearcher{results: []Result{{ID: 3, Title: "Found"}}}, nil)
	resp := svc.Search(context.Background(), Query{Text: "found"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "found", resp.Query)
	assert.Equal(t, int64(3), resp.Results[0].ID)

	resp = NewService(nil, stubSearcher{err: errors.New("boom")}, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	resp = NewService(nil, nil, nil).Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
}

func TestServiceIndexingIsNoopWithoutMeili(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.IndexUpdate(context.Background(), store.Record{ID: 1})
	svc.RemoveUpdate(context.Background(), 1)
	assert.NoError(t, svc.ReindexAll(context.Background(), store.NewMemoryStore()))
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	hit := meili.Hit{
		"id":        raw(12),
		"title":     raw("Camp"),
		"slug":      raw("camp"),
		"body":      raw("long body"),
		"createdAt": raw("2024-01-01T00:00:00Z"),
		"_formatted": raw(map[string]any{
			"title": "<mark>Camp</mark>",
			"body":  "…<mark>body</mark>",
		}),
	}
	got := hitToResult(hit)
	assert.Equal(t, Result{
		ID:        12,
		Title:     "<mark>Camp</mark>",
		Slug:      "camp",
		Snippet:   "…<mark>body</mark>",
		CreatedAt: "2024-01-01T00:00:00Z",
	}, got)

	assert.Equal(t, int64(5), decodeID(meili.Hit{"id": raw("5")}))
	assert.Zero(t, decodeID(meili.Hit{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}
