package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tasklane/api/internal/access"
	"tasklane/api/internal/auth"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/logutils"
	"tasklane/api/internal/session"
)

type HTTPServer struct {
	service        *Service
	corsOrigins    []string
	requestTimeout time.Duration
	maxImageBytes  int
}

func NewHTTPServer(service *Service) *HTTPServer {
	origins := service.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &HTTPServer{
		service:        service,
		corsOrigins:    origins,
		requestTimeout: service.cfg.RequestTimeout,
		maxImageBytes:  service.cfg.MaxImageBytes,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(s.withMiddleware)
	router.Use(middleware.Recoverer)
	router.Use(s.corsHandler())
	if s.requestTimeout > 0 {
		router.Use(middleware.Timeout(s.requestTimeout))
	}
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Get("/auth/current", s.handleCurrent)

			r.Get("/access/{kind}/{id}", s.handleCheckAccess)

			r.Route("/workspaces", func(r chi.Router) {
				r.Get("/", s.handleListWorkspaces)
				r.Post("/", s.handleCreateWorkspace)
				r.Get("/{workspaceId}", s.handleGetWorkspace)
				r.Patch("/{workspaceId}", s.handleUpdateWorkspace)
				r.Delete("/{workspaceId}", s.handleDeleteWorkspace)
				r.Get("/{workspaceId}/info", s.handleWorkspaceInfo)
				r.Post("/{workspaceId}/join", s.handleJoinWorkspace)
				r.Post("/{workspaceId}/reset-invite-code", s.handleResetInviteCode)
				r.Get("/{workspaceId}/analytics", s.handleWorkspaceAnalytics)
			})

			r.Route("/members", func(r chi.Router) {
				r.Get("/", s.handleListMembers)
				r.Delete("/{memberId}", s.handleRemoveMember)
				r.Patch("/{memberId}", s.handleUpdateMember)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Get("/{projectId}", s.handleGetProject)
				r.Patch("/{projectId}", s.handleUpdateProject)
				r.Delete("/{projectId}", s.handleDeleteProject)
				r.Get("/{projectId}/analytics", s.handleProjectAnalytics)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)
				r.Post("/bulk-update", s.handleBulkUpdateTasks)
				r.Get("/{taskId}", s.handleGetTask)
				r.Patch("/{taskId}", s.handleUpdateTask)
				r.Delete("/{taskId}", s.handleDeleteTask)
			})
		})
	})
	return router
}

func (s *HTTPServer) corsHandler() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}
	// Credentials cannot be combined with a wildcard origin.
	opts.AllowCredentials = !(len(s.corsOrigins) == 1 && s.corsOrigins[0] == "*")
	return cors.Handler(opts)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	// Search degrades to the document store, so it never blocks readiness.
	searchStatus := "disabled"
	if s.service.search.Enabled() {
		searchStatus = "degraded"
		if s.service.SearchHealthy() {
			searchStatus = "ok"
		}
	}
	checks["search"] = map[string]any{"status": searchStatus}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionKey struct{}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
				return
			}
			logutils.Log.WithError(err).WithField("request_id", requestID(r.Context())).Error("session lookup failed")
			writeError(w, http.StatusInternalServerError, CodeServer, "Session lookup failed", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(ctx context.Context) Session {
	sess, _ := ctx.Value(sessionKey{}).(Session)
	return sess
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
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		logutils.Log.WithFields(logutils.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, map[string]any{"data": payload})
}

func writeList(w http.ResponseWriter, documents any, total int) {
	writeData(w, map[string]any{"documents": documents, "total": total})
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

// fail maps err onto the error envelope and logs server-side failures.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logutils.Log.WithError(err).WithFields(logutils.Fields{
			"request_id": requestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
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

// mapError checks ErrUnauthorized before ErrNotFound: a denied lookup wraps
// the not-found cause and must still read as unauthorized.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, access.ErrUnauthorized) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil
	}
	if errors.Is(err, docstore.ErrNotFound) {
		return http.StatusNotFound, CodeNotFound, "Not found", nil
	}
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return http.StatusConflict, CodeConflict, "Already exists", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, CodeTimeout, "Request timed out", nil
	}
	return http.StatusInternalServerError, CodeServer, "Server error", nil
}
