// Package site serves the public updates pages from the content API.
package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when no update matches the requested slug or id.
var ErrNotFound = errors.New("update not found")

const defaultBackendURL = "http://localhost:3000"

// Update is an update document as served by the API.
type Update struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Content   any    `json:"content"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Created parses CreatedAt, returning the zero time when it is absent.
func (u Update) Created() time.Time {
	t, err := time.Parse(time.RFC3339Nano, u.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

type list[T any] struct {
	Docs      []T `json:"docs"`
	TotalDocs int `json:"totalDocs"`
}

type SearchResult struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Snippet   string `json:"snippet"`
	CreatedAt string `json:"createdAt"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
	Query   string         `json:"query"`
}

// RequestError reports a non-2xx response from the API.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed %d: %s", e.Status, e.Body)
}

func (e *RequestError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the content API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient trims baseURL and falls back to the local API when it is blank.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultBackendURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: base, http: httpClient}
}

// Recent returns the newest updates first.
func (c *Client) Recent(ctx context.Context, limit int) ([]Update, error) {
	q := url.Values{}
	q.Set("sort", "-createdAt")
	q.Set("limit", strconv.Itoa(limit))
	var out list[Update]
	if err := c.fetchJSON(ctx, "/api/updates?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("list recent updates: %w", err)
	}
	return out.Docs, nil
}

// BySlug looks the update up by slug and falls back to treating the slug as an id.
func (c *Client) BySlug(ctx context.Context, slug string) (Update, error) {
	q := url.Values{}
	q.Set("where[slug][equals]", slug)
	q.Set("limit", "1")
	var out list[Update]
	if err := c.fetchJSON(ctx, "/api/updates?"+q.Encode(), &out); err != nil {
		return Update{}, fmt.Errorf("find update %q: %w", slug, err)
	}
	if len(out.Docs) > 0 {
		return out.Docs[0], nil
	}

	id, err := strconv.ParseInt(slug, 10, 64)
	if err != nil || id <= 0 {
		return Update{}, ErrNotFound
	}
	var doc Update
	if err := c.fetchJSON(ctx, "/api/updates/"+url.PathEscape(slug), &doc); err != nil {
		return Update{}, fmt.Errorf("find update %d: %w", id, err)
	}
	return doc, nil
}

func (c *Client) Search(ctx context.Context, text string) (SearchResponse, error) {
	var out SearchResponse
	if err := c.fetchJSON(ctx, "/api/updates/search?"+url.Values{"q": {text}}.Encode(), &out); err != nil {
		return SearchResponse{}, fmt.Errorf("search updates: %w", err)
	}
	return out, nil
}

func (c *Client) fetchJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &RequestError{Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
