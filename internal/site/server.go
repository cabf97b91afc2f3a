package site

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"zimupdates/internal/cache"
	"zimupdates/internal/export"
	"zimupdates/internal/richtext"
)

const (
	recentLimit   = 3
	excerptLength = 200
	dateLayout    = "January 2, 2006"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("site").ParseFS(templateFS, "templates/*.html"))

// PDFExporter prints an update.
type PDFExporter interface {
	PDF(ctx context.Context, u export.Update) (*export.Result, error)
}

type Options struct {
	Client   *Client
	Renderer *richtext.Renderer
	// Cache may be nil to render every request.
	Cache    cache.Pages
	Exporter PDFExporter
	SiteName string
	Logger   *zap.Logger
}

type Server struct {
	client   *Client
	renderer *richtext.Renderer
	cache    cache.Pages
	exporter PDFExporter
	siteName string
	logger   *zap.Logger
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = richtext.NewRenderer(richtext.WithLogger(logger))
	}
	siteName := opts.SiteName
	if siteName == "" {
		siteName = "Zim Updates"
	}
	return &Server{
		client:   opts.Client,
		renderer: renderer,
		cache:    opts.Cache,
		exporter: opts.Exporter,
		siteName: siteName,
		logger:   logger.Named("site"),
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	r.HandleFunc("/{slug}/pdf", s.handlePDF).Methods(http.MethodGet)
	r.HandleFunc("/{slug}", s.handleUpdate).Methods(http.MethodGet, http.MethodHead)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.renderError(w, http.StatusNotFound, "Not found", "We couldn't find that page.")
	})
	return s.withLogging(r)
}

type card struct {
	Title   string
	Path    string
	Date    string
	Excerpt string
}

type article struct {
	Title string
	Path  string
	Date  string
	Body  template.HTML
}

type pageData struct {
	SiteName string
	Title    string
	Query    string
	Message  string
	Recent   []card
	Results  []card
	Total    int
	Update   article
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	docs, err := s.client.Recent(r.Context(), recentLimit)
	if err != nil {
		s.logger.Warn("load recent updates", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, "Unavailable", "Updates are unavailable right now. Please try again shortly.")
		return
	}

	cards := make([]card, len(docs))
	var g errgroup.Group
	g.SetLimit(recentLimit)
	for i, doc := range docs {
		g.Go(func() error {
			body := s.body(r.Context(), doc)
			cards[i] = card{
				Title:   doc.Title,
				Path:    pathFor(doc),
				Date:    formatDate(doc.Created()),
				Excerpt: excerpt(string(body)),
			}
			return nil
		})
	}
	_ = g.Wait()

	s.render(w, http.StatusOK, "index.html", pageData{Recent: cards})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.render(w, http.StatusOK, "update.html", pageData{
		Title: doc.Title,
		Update: article{
			Title: doc.Title,
			Path:  pathFor(doc),
			Date:  formatDate(doc.Created()),
			Body:  s.body(r.Context(), doc),
		},
	})
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if s.exporter == nil {
		s.renderError(w, http.StatusServiceUnavailable, "Unavailable", "PDF export is not available.")
		return
	}

	result, err := s.exporter.PDF(r.Context(), export.Update{
		ID:        doc.ID,
		Title:     doc.Title,
		Slug:      doc.Slug,
		Body:      s.body(r.Context(), doc),
		CreatedAt: doc.Created(),
	})
	if err != nil {
		s.logger.Warn("export pdf", zap.Int64("id", doc.ID), zap.Error(err))
		if errors.Is(err, export.ErrPDFDependencyMissing) {
			s.renderError(w, http.StatusServiceUnavailable, "Unavailable", "PDF export is not available.")
			return
		}
		s.renderError(w, http.StatusInternalServerError, "Export failed", "The PDF could not be generated.")
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	data := pageData{Title: "Search", Query: query}
	if query == "" {
		s.render(w, http.StatusOK, "search.html", data)
		return
	}

	resp, err := s.client.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("search updates", zap.String("query", query), zap.Error(err))
		s.renderError(w, http.StatusBadGateway, "Unavailable", "Search is unavailable right now.")
		return
	}
	data.Total = resp.Total
	for _, result := range resp.Results {
		path := result.Slug
		if path == "" {
			path = strconv.FormatInt(result.ID, 10)
		}
		data.Results = append(data.Results, card{
			Title:   richtext.PlainText(result.Title),
			Path:    path,
			Excerpt: richtext.PlainText(result.Snippet),
		})
	}
	s.render(w, http.StatusOK, "search.html", data)
}

// lookup resolves the {slug} route variable and writes the error page when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Update, bool) {
	slug := mux.Vars(r)["slug"]
	doc, err := s.client.BySlug(r.Context(), slug)
	if errors.Is(err, ErrNotFound) {
		s.renderError(w, http.StatusNotFound, "Not found", "We couldn't find that update.")
		return Update{}, false
	}
	if err != nil {
		s.logger.Warn("load update", zap.String("slug", slug), zap.Error(err))
		s.renderError(w, http.StatusBadGateway, "Unavailable", "Updates are unavailable right now. Please try again shortly.")
		return Update{}, false
	}
	return doc, true
}

// body returns the sanitized HTML of an update, from the page cache when the
// same revision was rendered before. A failed render yields an empty body.
func (s *Server) body(ctx context.Context, doc Update) template.HTML {
	if s.cache != nil {
		page, err := s.cache.GetPage(ctx, doc.ID, doc.UpdatedAt)
		if err == nil {
			return template.HTML(page.HTML)
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("read page cache", zap.Int64("id", doc.ID), zap.Error(err))
		}
	}

	html, err := s.renderer.Render(ctx, doc.Content)
	if err != nil {
		s.logger.Warn("render update", zap.Int64("id", doc.ID), zap.Error(err))
		return ""
	}
	if s.cache != nil && html != "" {
		if err := s.cache.PutPage(ctx, doc.ID, doc.UpdatedAt, cache.Page{HTML: html}); err != nil {
			s.logger.Warn("write page cache", zap.Int64("id", doc.ID), zap.Error(err))
		}
	}
	return template.HTML(html)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	data.SiteName = s.siteName
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("execute template", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, status int, title, message string) {
	s.render(w, status, "error.html", pageData{Title: title, Message: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

func pathFor(doc Update) string {
	if doc.Slug != "" {
		return doc.Slug
	}
	return strconv.FormatInt(doc.ID, 10)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func excerpt(markup string) string {
	text := []rune(richtext.PlainText(markup))
	if len(text) <= excerptLength {
		return string(text)
	}
	return string(text[:excerptLength]) + "…"
}
