package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"framedata/api/internal/auth"
	"framedata/api/internal/corpus"
	"framedata/api/internal/moderation"
	"framedata/api/internal/proposals"
	"framedata/api/internal/publish"
	"framedata/api/internal/store"

	"github.com/google/uuid"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "v1" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[2] {
	case "props":
		s.handleProposals(w, r, parts[3:])
		return
	case "docs":
		s.handleDocuments(w, r, parts[3:])
		return
	case "search":
		if len(parts) == 3 && r.Method == http.MethodGet {
			s.handleSearch(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}

	for name, err := range s.service.CheckDependencies(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
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

// handleProposals serves everything under /api/v1/props. The first segment
// is a collection name when submitting and "any" otherwise.
func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodPost {
		kind, ok := corpus.KindFromCollection(parts[0])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		var body ProposalRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Document.Kind == "" {
			body.Document.Kind = kind
		}
		if body.Document.Kind != kind {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				fmt.Sprintf("document type %q does not match collection %q", body.Document.Kind, parts[0]), nil)
			return
		}
		proposal, err := s.service.SubmitProposal(r.Context(), identity, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"proposal": proposal})
		return
	}

	if len(parts) == 0 || parts[0] != "any" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if len(parts) == 1 && r.Method == http.MethodGet {
		filter, err := proposalFilter(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		page, err := s.service.ListProposals(r.Context(), filter)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
		return
	}

	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	target := parts[1]
	version, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil || version == 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		view, err := s.service.GetProposal(r.Context(), target, version)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 5 && parts[3] == "status" && r.Method == http.MethodPatch {
		identity, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		closed, err := s.service.CloseProposal(r.Context(), target, version, parts[4], identity)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proposal": closed})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func proposalFilter(r *http.Request) (proposals.Filter, error) {
	query := r.URL.Query()
	filter := proposals.Filter{
		Status:   moderation.StatusApproved,
		Target:   strings.TrimSpace(query.Get("target")),
		AuthorID: strings.TrimSpace(query.Get("author")),
		SortAsc:  true,
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := moderation.ParseStatus(raw)
		if err != nil {
			return proposals.Filter{}, validationError(err.Error())
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Get("sortAsc")); raw != "" {
		asc, err := strconv.ParseBool(raw)
		if err != nil {
			return proposals.Filter{}, validationError("sortAsc must be true or false")
		}
		filter.SortAsc = asc
	}
	var err error
	if filter.Offset, err = intParam(query.Get("offset")); err != nil {
		return proposals.Filter{}, validationError("offset must be an integer")
	}
	if filter.Limit, err = intParam(query.Get("limit")); err != nil {
		return proposals.Filter{}, validationError("limit must be an integer")
	}
	return filter, nil
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	kind, ok := corpus.KindFromCollection(parts[0])
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch len(parts) {
	case 1:
		query := r.URL.Query()
		var parent string
		switch kind {
		case corpus.KindCharacter:
			parent = strings.TrimSpace(query.Get("game"))
		case corpus.KindMove:
			parent = strings.TrimSpace(query.Get("char"))
		}
		offset, err := intParam(query.Get("offset"))
		if err != nil {
			s.fail(w, r, validationError("offset must be an integer"))
			return
		}
		limit, err := intParam(query.Get("limit"))
		if err != nil {
			s.fail(w, r, validationError("limit must be an integer"))
			return
		}
		docs, err := s.service.ListDocuments(r.Context(), kind, parent, offset, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "offset": offset, "limit": limit})
	case 2:
		view, err := s.service.GetDocument(r.Context(), kind, parts[1])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case 3:
		if parts[2] != "history" {
			break
		}
		limit, err := intParam(r.URL.Query().Get("limit"))
		if err != nil {
			s.fail(w, r, validationError("limit must be an integer"))
			return
		}
		revisions, err := s.service.DocumentHistory(r.Context(), kind, parts[1], limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	case 4:
		if parts[2] != "history" {
			break
		}
		view, err := s.service.DocumentRevision(r.Context(), kind, parts[1], parts[3])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	offset, err := intParam(query.Get("offset"))
	if err != nil {
		s.fail(w, r, validationError("offset must be an integer"))
		return
	}
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		s.fail(w, r, validationError("limit must be an integer"))
		return
	}
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), query.Get("query"), offset, limit))
}

// requireIdentity resolves the bearer token. Missing or bad tokens get a 401.
func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return nil, false
	}
	claims, err := auth.ParseToken(s.service.TokenSecret(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return nil, false
	}
	identity := claims.Identity()
	return &identity, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf(`{"request_id":"%s","path":"%s","error":%q}`, requestID(r.Context()), r.URL.Path, err.Error())
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *corpus.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Message, nil
	}
	var indexErr *publish.IndexError
	if errors.As(err, &indexErr) {
		return http.StatusBadGateway, "PUBLISH_INCOMPLETE", "Document published but search index update failed", map[string]any{
			"type":   indexErr.Kind,
			"target": indexErr.Target,
		}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, proposals.ErrNotPending):
		return http.StatusConflict, "PRECONDITION_FAILED", "Proposal is no longer pending", nil
	case errors.Is(err, moderation.ErrNotPermitted):
		return http.StatusForbidden, "FORBIDDEN", "Not permitted", nil
	case errors.Is(err, moderation.ErrInvalidStatus), errors.Is(err, proposals.ErrAmbiguousFilter):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
