package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"zimupdates/internal/richtext"
	"zimupdates/internal/store"
)

const reindexPageSize = 200

// Service is the facade that tries Meilisearch first and falls back to the
// store title match.
type Service struct {
	meili    *Meili
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{meili: meili, fallback: fallback, logger: logger.Named("search")}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to store", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Warn("fallback search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexUpdate indexes an update (fire-and-forget to Meilisearch).
func (s *Service) IndexUpdate(_ context.Context, rec store.Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	doc := ToRecord(rec)
	go func() {
		if err := s.meili.IndexUpdate(doc); err != nil {
			s.logger.Warn("index update", zap.Int64("id", doc.ID), zap.Error(err))
		}
	}()
}

// RemoveUpdate removes an update from the index (fire-and-forget).
func (s *Service) RemoveUpdate(_ context.Context, id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteUpdate(id); err != nil {
			s.logger.Warn("delete update", zap.Int64("id", id), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every update in the store to Meilisearch.
func (s *Service) ReindexAll(ctx context.Context, records store.RecordStore) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	indexed := 0
	for offset := 0; ; offset += reindexPageSize {
		page, err := records.Query(ctx, store.Updates, store.Query{Sort: "id", Limit: reindexPageSize, Offset: offset})
		if err != nil {
			return err
		}
		docs := make([]UpdateRecord, 0, len(page))
		for _, rec := range page {
			docs = append(docs, ToRecord(rec))
		}
		if err := s.meili.IndexUpdates(docs); err != nil {
			return err
		}
		indexed += len(docs)
		if len(page) < reindexPageSize {
			break
		}
	}
	s.logger.Info("reindexed updates", zap.Int("count", indexed))
	return nil
}

// ToRecord flattens an update into its indexed form. Rich content is reduced
// to plain text; content that fails to render is indexed without a body.
func ToRecord(rec store.Record) UpdateRecord {
	doc := UpdateRecord{
		ID:    rec.ID,
		Title: rec.String("title"),
		Slug:  rec.String("slug"),
		Body:  plainBody(rec.Get("content")),
	}
	if !rec.CreatedAt.IsZero() {
		doc.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	return doc
}

func plainBody(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return richtext.PlainText(v)
	default:
		markup, err := richtext.ToHTML(v)
		if err != nil {
			return ""
		}
		return richtext.PlainText(markup)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
