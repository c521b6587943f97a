package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/endpoint"
	"inkwell/api/internal/export"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	chat       http.Handler
	corsOrigin string
}

// NewHTTPServer builds the router. chat may be nil when no model backend is
// configured.
func NewHTTPServer(service *Service, chat http.Handler, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, chat: chat, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"persistence": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["persistence"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/chat" {
		if s.chat == nil {
			writeError(w, http.StatusServiceUnavailable, "CHAT_UNAVAILABLE", "Chat backend not configured", nil)
			return
		}
		s.chat.ServeHTTP(w, r)
		return
	}

	if r.URL.Path == "/api/projects" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"projects": s.service.ListProjects()})
			return
		case http.MethodPost:
			var body struct {
				Title string `json:"title"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			writeJSON(w, http.StatusCreated, s.service.CreateProject(body.Title))
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := search.Query{Text: r.URL.Query().Get("q")}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			q.Limit = limit
		}
		if offset, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
			q.Offset = offset
		}
		writeJSON(w, http.StatusOK, s.service.Search(q))
		return
	}

	if r.URL.Path == "/api/settings" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]string{"apiMode": s.service.APIMode()})
			return
		case http.MethodPut:
			var body struct {
				APIMode string `json:"apiMode"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.SetAPIMode(body.APIMode); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"apiMode": s.service.APIMode()})
			return
		}
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "projects" {
		projectID := parts[2]

		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				p, err := s.service.GetProject(projectID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, p)
				return
			case http.MethodPut:
				s.handleUpdateProject(w, r, projectID)
				return
			case http.MethodDelete:
				s.service.DeleteProject(projectID)
				writeJSON(w, http.StatusNoContent, map[string]any{})
				return
			}
		}

		if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
			versions, err := s.service.History(projectID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
			return
		}

		if len(parts) == 4 && parts[3] == "snapshot" && r.Method == http.MethodPost {
			s.handleSnapshot(w, r, projectID)
			return
		}

		if len(parts) == 4 && parts[3] == "restore" && r.Method == http.MethodPost {
			var body struct {
				VersionID string `json:"versionId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			p, err := s.service.RestoreVersion(projectID, body.VersionID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, p)
			return
		}

		if len(parts) == 4 && parts[3] == "session-ended" && r.Method == http.MethodPost {
			s.service.SessionEnded(projectID)
			writeJSON(w, http.StatusNoContent, map[string]any{})
			return
		}

		if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet {
			s.handleExport(w, r, projectID)
			return
		}

		if len(parts) == 4 && parts[3] == "active-thread" && r.Method == http.MethodPut {
			var body struct {
				ThreadID string `json:"threadId"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.service.SetActiveThread(projectID, body.ThreadID)
			writeJSON(w, http.StatusNoContent, map[string]any{})
			return
		}

		if len(parts) == 4 && parts[3] == "threads" {
			switch r.Method {
			case http.MethodGet:
				threads, err := s.service.ListThreads(projectID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
				return
			case http.MethodPost:
				var body struct {
					Title string `json:"title"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				t, err := s.service.CreateThread(projectID, body.Title)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusCreated, t)
				return
			}
		}

		if len(parts) == 5 && parts[3] == "threads" && r.Method == http.MethodDelete {
			s.service.DeleteThread(projectID, parts[4])
			writeJSON(w, http.StatusNoContent, map[string]any{})
			return
		}

		if len(parts) == 6 && parts[3] == "threads" && parts[5] == "messages" {
			threadID := parts[4]
			switch r.Method {
			case http.MethodPut:
				var body struct {
					Messages []store.Message `json:"messages"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				s.service.ReplaceThreadMessages(projectID, threadID, body.Messages)
				writeJSON(w, http.StatusNoContent, map[string]any{})
				return
			case http.MethodPost:
				var body struct {
					Text string `json:"text"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				thread, state, lastError, err := s.service.SendMessage(r.Context(), projectID, threadID, body.Text)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				payload := map[string]any{"thread": thread, "state": state}
				if lastError != "" {
					payload["error"] = lastError
				}
				writeJSON(w, http.StatusOK, payload)
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
		Notes   *string `json:"notes"`
		Source  string  `json:"source"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	source := store.SourceEditor
	switch body.Source {
	case "", string(store.SourceEditor):
	case string(store.SourceExternal):
		source = store.SourceExternal
	default:
		writeError(w, http.StatusBadRequest, "INVALID_SOURCE", "Unknown write source", map[string]string{"source": body.Source})
		return
	}

	p, err := s.service.UpdateProject(projectID, store.UpdateFields{
		Title:   body.Title,
		Content: body.Content,
		Notes:   body.Notes,
	}, source)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	reason := store.SnapshotReason(body.Reason)
	if body.Reason == "" {
		reason = store.ReasonManual
	}
	switch reason {
	case store.ReasonManual, store.ReasonAIBackup, store.ReasonAutoSave, store.ReasonSessionEnd:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REASON", "Unknown snapshot reason", map[string]string{"reason": body.Reason})
		return
	}
	s.service.SnapshotProject(projectID, reason)
	p, err := s.service.GetProject(projectID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": p.History})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, projectID string) {
	req := export.Request{
		ProjectID:    projectID,
		VersionID:    r.URL.Query().Get("version"),
		IncludeNotes: r.URL.Query().Get("notes") == "true",
	}
	result, err := s.service.Export(req)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the chat stream unbuffered through the middleware wrapper.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, export.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer not available", nil
	}
	if errors.Is(err, endpoint.ErrMissingBaseURL) {
		return http.StatusInternalServerError, "CONFIGURATION_ERROR", "Chat base URL not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
