package export

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

type Option func(*Service)

// WithChromePath pins the browser binary instead of searching PATH.
func WithChromePath(path string) Option {
	return func(s *Service) { s.chromePath = path }
}

func WithSiteName(name string) Option {
	return func(s *Service) { s.siteName = name }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service provides update export functionality
type Service struct {
	chromePath string
	siteName   string
	timeout    time.Duration
	logger     *zap.Logger
	print      func(ctx context.Context, chromePath, html string) ([]byte, error)
}

// NewService creates a new export service
func NewService(opts ...Option) *Service {
	s := &Service{timeout: defaultTimeout, logger: zap.NewNop(), print: printPDF}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("export")
	return s
}

// HTML renders the printable page without invoking the browser.
func (s *Service) HTML(u Update) (string, error) {
	html, err := RenderUpdateHTML(TemplateData{Update: u, SiteName: s.siteName})
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

// PDF renders the update and prints it with headless Chrome.
func (s *Service) PDF(ctx context.Context, u Update) (*Result, error) {
	chrome, err := findChrome(s.chromePath)
	if err != nil {
		return nil, err
	}
	html, err := s.HTML(u)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	data, err := s.print(ctx, chrome, html)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("pdf exported", zap.Int64("id", u.ID), zap.Int("bytes", len(data)), zap.Duration("duration", time.Since(started)))

	name := u.Slug
	if name == "" {
		name = u.Title
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(name) + ".pdf",
		MimeType: "application/pdf",
	}, nil
}
