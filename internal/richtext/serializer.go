package richtext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Serializer is an optional external document-to-HTML converter. A result
// that is not a string is treated like a failure.
type Serializer interface {
	Serialize(ctx context.Context, content any) (any, error)
}

// HTTPSerializer posts {"content": doc} and reads {"html": ...} back.
type HTTPSerializer struct {
	url    string
	client *http.Client
}

func NewHTTPSerializer(url string, client *http.Client) *HTTPSerializer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSerializer{url: url, client: client}
}

func (s *HTTPSerializer) Serialize(ctx context.Context, content any) (any, error) {
	payload, err := json.Marshal(map[string]any{"content": content})
	if err != nil {
		return nil, fmt.Errorf("encode serializer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build serializer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call serializer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serializer returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var out struct {
		HTML any `json:"html"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode serializer response: %w", err)
	}
	return out.HTML, nil
}
