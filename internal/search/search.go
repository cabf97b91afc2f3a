package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Snippet   string `json:"snippet"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over updates.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// UpdateRecord is the data we index for an update.
type UpdateRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

const defaultLimit = 20

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
