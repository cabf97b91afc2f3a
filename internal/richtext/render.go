// Package richtext turns stored rich-text documents into sanitized HTML.
package richtext

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Renderer prefers an injected Serializer and falls back to ToHTML. All
// output passes through the Sanitizer.
type Renderer struct {
	serializer Serializer
	sanitizer  *Sanitizer
	logger     *zap.Logger
}

type Option func(*Renderer)

func WithSerializer(s Serializer) Option {
	return func(r *Renderer) { r.serializer = s }
}

func WithSanitizer(s *Sanitizer) Option {
	return func(r *Renderer) { r.sanitizer = s }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Renderer) { r.logger = logger }
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	if r.sanitizer == nil {
		r.sanitizer = NewSanitizer()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("richtext")
	return r
}

// Render returns sanitized HTML for stored content. Empty content renders
// as "" and strings are taken as HTML already. The error is non-nil only
// when the document could not be rendered; the HTML is "" in that case.
func (r *Renderer) Render(ctx context.Context, content any) (string, error) {
	if isBlank(content) {
		return "", nil
	}
	if markup, ok := content.(string); ok {
		return r.sanitizer.Sanitize(markup), nil
	}

	if r.serializer != nil {
		out, err := r.serializer.Serialize(ctx, content)
		if markup, ok := out.(string); err == nil && ok {
			return r.sanitizer.Sanitize(markup), nil
		}
		if err != nil {
			r.logger.Debug("serializer failed, using built-in renderer", zap.Error(err))
		} else {
			r.logger.Debug("serializer returned non-string, using built-in renderer", zap.String("type", fmt.Sprintf("%T", out)))
		}
	}

	markup, err := ToHTML(content)
	if err != nil {
		return "", fmt.Errorf("render rich text: %w", err)
	}
	return r.sanitizer.Sanitize(markup), nil
}

func isBlank(content any) bool {
	switch v := content.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case bool:
		return !v
	case float64:
		return v == 0
	default:
		return false
	}
}
