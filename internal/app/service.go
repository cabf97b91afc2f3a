package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"zimupdates/internal/collections"
	"zimupdates/internal/search"
	"zimupdates/internal/store"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 1000
)

// Access describes the caller of a service operation.
type Access struct {
	Admin bool
}

// ListParams is a Payload-style list request.
type ListParams struct {
	Where []store.Condition
	Sort  string
	Limit int
	Page  int
}

// ListResult mirrors the Payload pagination envelope.
type ListResult struct {
	Docs        []store.Record `json:"docs"`
	TotalDocs   int            `json:"totalDocs"`
	Limit       int            `json:"limit"`
	Page        int            `json:"page"`
	TotalPages  int            `json:"totalPages"`
	HasNextPage bool           `json:"hasNextPage"`
	HasPrevPage bool           `json:"hasPrevPage"`
	NextPage    *int           `json:"nextPage"`
	PrevPage    *int           `json:"prevPage"`
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// Service runs collection operations through the hook pipeline.
type Service struct {
	store    store.RecordStore
	registry *collections.Registry
	search   Searcher
	logger   *zap.Logger
}

func NewService(s store.RecordStore, registry *collections.Registry, searcher Searcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: s, registry: registry, search: searcher, logger: logger.Named("app")}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) collection(slug string) (collections.Collection, error) {
	c, ok := s.registry.Get(slug)
	if !ok {
		return collections.Collection{}, domainError(http.StatusNotFound, "UNKNOWN_COLLECTION", fmt.Sprintf("Collection %q not found", slug), nil)
	}
	return c, nil
}

func (s *Service) readable(access Access, slug string) (collections.Collection, error) {
	c, err := s.collection(slug)
	if err != nil {
		return c, err
	}
	if !c.PublicRead && !access.Admin {
		return c, errUnauthorized
	}
	return c, nil
}

func (s *Service) writable(access Access, slug string) (collections.Collection, error) {
	c, err := s.collection(slug)
	if err != nil {
		return c, err
	}
	if !access.Admin {
		return c, errUnauthorized
	}
	return c, nil
}

func (s *Service) Find(ctx context.Context, access Access, slug string, id int64) (store.Record, error) {
	c, err := s.readable(access, slug)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := s.store.Find(ctx, slug, id)
	if err != nil {
		return store.Record{}, err
	}
	return c.AfterRead(ctx, rec), nil
}

func (s *Service) List(ctx context.Context, access Access, slug string, params ListParams) (ListResult, error) {
	c, err := s.readable(access, slug)
	if err != nil {
		return ListResult{}, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}

	query := store.Query{Where: params.Where, Sort: params.Sort, Limit: limit, Offset: (page - 1) * limit}
	total, err := s.store.Count(ctx, slug, query)
	if err != nil {
		return ListResult{}, err
	}
	records, err := s.store.Query(ctx, slug, query)
	if err != nil {
		return ListResult{}, err
	}
	for i := range records {
		records[i] = c.AfterRead(ctx, records[i])
	}
	return paginate(records, total, limit, page), nil
}

func paginate(docs []store.Record, total, limit, page int) ListResult {
	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	result := ListResult{
		Docs:        docs,
		TotalDocs:   total,
		Limit:       limit,
		Page:        page,
		TotalPages:  totalPages,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
	if result.HasNextPage {
		next := page + 1
		result.NextPage = &next
	}
	if result.HasPrevPage {
		prev := page - 1
		result.PrevPage = &prev
	}
	return result
}

func (s *Service) Create(ctx context.Context, access Access, slug string, data map[string]any) (store.Record, error) {
	c, err := s.writable(access, slug)
	if err != nil {
		return store.Record{}, err
	}
	data, err = c.BeforeChange(ctx, collections.ChangeArgs{
		Operation: collections.OperationCreate,
		Data:      writableFields(c, data),
	})
	if err != nil {
		return store.Record{}, err
	}
	if err := c.Validate(collections.OperationCreate, data); err != nil {
		return store.Record{}, err
	}

	rec, err := s.store.Create(ctx, slug, data)
	if err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("record created", zap.String("collection", slug), zap.Int64("id", rec.ID))
	c.AfterChange(ctx, collections.AfterChangeArgs{Operation: collections.OperationCreate, Doc: rec})
	return c.AfterRead(ctx, rec), nil
}

func (s *Service) Update(ctx context.Context, access Access, slug string, id int64, data map[string]any) (store.Record, error) {
	c, err := s.writable(access, slug)
	if err != nil {
		return store.Record{}, err
	}
	previous, err := s.store.Find(ctx, slug, id)
	if err != nil {
		return store.Record{}, err
	}
	data, err = c.BeforeChange(ctx, collections.ChangeArgs{
		Operation: collections.OperationUpdate,
		Data:      writableFields(c, data),
		Original:  previous,
	})
	if err != nil {
		return store.Record{}, err
	}
	if err := c.Validate(collections.OperationUpdate, data); err != nil {
		return store.Record{}, err
	}

	rec, err := s.store.Update(ctx, slug, id, data)
	if err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("record updated", zap.String("collection", slug), zap.Int64("id", rec.ID))
	c.AfterChange(ctx, collections.AfterChangeArgs{Operation: collections.OperationUpdate, Doc: rec, Previous: previous})
	return c.AfterRead(ctx, rec), nil
}

func (s *Service) Delete(ctx context.Context, access Access, slug string, id int64) (store.Record, error) {
	c, err := s.writable(access, slug)
	if err != nil {
		return store.Record{}, err
	}
	doc, err := s.store.Find(ctx, slug, id)
	if err != nil {
		return store.Record{}, err
	}
	if err := s.store.Delete(ctx, slug, id); err != nil {
		return store.Record{}, err
	}
	s.logger.Debug("record deleted", zap.String("collection", slug), zap.Int64("id", id))
	c.AfterDelete(ctx, doc)
	return doc, nil
}

func (s *Service) Search(ctx context.Context, text string, limit, offset int) search.Response {
	text = strings.TrimSpace(text)
	if s.search == nil || text == "" {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: limit, Offset: offset})
}

// writableFields drops store-owned and derived keys from a payload.
func writableFields(c collections.Collection, data map[string]any) map[string]any {
	out := c.StripDerived(data)
	delete(out, "id")
	delete(out, "createdAt")
	delete(out, "updatedAt")
	return out
}
