package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"zimupdates/internal/collections"
	"zimupdates/internal/store"
)

type ServerOptions struct {
	AdminAPIKey string
	CORSOrigins []string
	CSRFOrigins []string
	Logger      *zap.Logger
}

type HTTPServer struct {
	service     *Service
	adminKey    string
	corsOrigins map[string]bool
	csrfOrigins map[string]bool
	logger      *zap.Logger
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{
		service:     service,
		adminKey:    strings.TrimSpace(opts.AdminAPIKey),
		corsOrigins: originSet(opts.CORSOrigins),
		csrfOrigins: originSet(opts.CSRFOrigins),
		logger:      logger.Named("http"),
	}
}

func originSet(origins []string) map[string]bool {
	set := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			set[origin] = true
		}
	}
	return set
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	api.HandleFunc("/updates/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/{collection}", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/{collection}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{collection}/{id}", s.handleFind).Methods(http.MethodGet)
	api.HandleFunc("/{collection}/{id}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/{collection}/{id}", s.handleDelete).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	limit, err := intParam(values.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be an integer", nil)
		return
	}
	offset, err := intParam(values.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be an integer", nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), values.Get("q"), limit, offset))
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.List(r.Context(), s.access(r), mux.Vars(r)["collection"], params)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleFind(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.service.Find(r.Context(), s.access(r), mux.Vars(r)["collection"], id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.Create(r.Context(), s.access(r), mux.Vars(r)["collection"], body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"doc": doc, "message": "Successfully created."})
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.Update(r.Context(), s.access(r), mux.Vars(r)["collection"], id, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": doc, "message": "Updated successfully."})
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	doc, err := s.service.Delete(r.Context(), s.access(r), mux.Vars(r)["collection"], id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc": doc, "message": "Deleted successfully."})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

// access grants admin rights to requests bearing the operator key. With no
// key configured every caller is anonymous.
func (s *HTTPServer) access(r *http.Request) Access {
	token := bearerToken(r)
	if s.adminKey == "" || token == "" {
		return Access{}
	}
	return Access{Admin: subtle.ConstantTimeCompare([]byte(token), []byte(s.adminKey)) == 1}
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return id, nil
}

var wherePattern = regexp.MustCompile(`^where\[([^\]]+)\]\[([^\]]+)\]$`)

func parseListParams(r *http.Request) (ListParams, error) {
	values := r.URL.Query()
	params := ListParams{Sort: strings.TrimSpace(values.Get("sort"))}

	var err error
	if params.Limit, err = intParam(values.Get("limit")); err != nil {
		return ListParams{}, domainError(http.StatusBadRequest, "INVALID_QUERY", "limit must be an integer", nil)
	}
	if params.Page, err = intParam(values.Get("page")); err != nil {
		return ListParams{}, domainError(http.StatusBadRequest, "INVALID_QUERY", "page must be an integer", nil)
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		match := wherePattern.FindStringSubmatch(key)
		if match == nil {
			continue
		}
		op := store.Operator(match[2])
		switch op {
		case store.OpEquals, store.OpContains, store.OpLike:
		default:
			return ListParams{}, domainError(http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("unsupported operator %q", match[2]), nil)
		}
		params.Where = append(params.Where, store.Condition{Field: match[1], Op: op, Value: values.Get(key)})
	}
	return params, nil
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		origin := strings.TrimRight(r.Header.Get("Origin"), "/")
		s.setCORSHeaders(writer.Header(), origin)
		writer.Header().Set("X-Request-ID", id)

		switch {
		case r.Method == http.MethodOptions:
			writer.WriteHeader(http.StatusNoContent)
		case isUnsafe(r.Method) && origin != "" && !s.csrfOrigins[origin]:
			writeError(writer, http.StatusForbidden, "CSRF_REJECTED", "Origin not allowed", nil)
		default:
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

func isUnsafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) setCORSHeaders(header http.Header, origin string) {
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
	if origin == "" || !s.corsOrigins[origin] {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Add("Vary", "Origin")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("invalid JSON body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *collections.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), map[string]any{"fields": validationErr.Fields}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "A record with this value already exists", nil
	case errors.Is(err, collections.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, store.ErrInvalidField):
		return http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
