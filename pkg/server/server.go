package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ha1tch/olu-graph/pkg/admin"
	"github.com/ha1tch/olu-graph/pkg/applications"
	"github.com/ha1tch/olu-graph/pkg/auth"
	"github.com/ha1tch/olu-graph/pkg/config"
	"github.com/ha1tch/olu-graph/pkg/entities"
	"github.com/ha1tch/olu-graph/pkg/models"
	"github.com/ha1tch/olu-graph/pkg/storage"
	"github.com/ha1tch/olu-graph/pkg/values"
)

// APIKeyHeader carries the caller's credential
const APIKeyHeader = "X-API-KEY"

// authenticator resolves presented keys on behalf of the server
var authenticator = auth.SystemPrincipal("authenticator")

// Server represents the HTTP server
type Server struct {
	config       *config.Config
	entities     *entities.Service
	values       *values.Service
	applications *applications.Service
	admin        *admin.Runner
	issuer       *auth.Issuer
	logger       zerolog.Logger
	router       *chi.Mux
	http         *http.Server
}

// New creates a new server instance
func New(
	cfg *config.Config,
	ents *entities.Service,
	vals *values.Service,
	apps *applications.Service,
	runner *admin.Runner,
	issuer *auth.Issuer,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		config:       cfg,
		entities:     ents,
		values:       vals,
		applications: apps,
		admin:        runner,
		issuer:       issuer,
		logger:       logger,
		router:       chi.NewRouter(),
	}

	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// Health check
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Post("/", s.handleStoreEntities)
			r.Get("/{id}", s.handleGetEntity)
			r.Post("/{id}/values/{prefix}/{key}", s.handleInsertValue)
			r.Delete("/{id}/values/{prefix}/{key}", s.handleRemoveValue)
			r.Put("/{id}/values/{prefix}/{key}", s.handleReplaceValue)
		})

		r.Route("/applications", func(r chi.Router) {
			r.Post("/", s.handleCreateApplication)
			r.Get("/", s.handleListApplications)
			r.Get("/{key}/keys", s.handleListKeys)
			r.Post("/{key}/keys", s.handleGenerateKey)
			r.Delete("/{key}/keys/{name}", s.handleRevokeKey)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/bulk/reset", s.handleReset)
			r.Post("/bulk/import/entities", s.handleImportEntities)
			r.Get("/jobs/{id}", s.handleGetJob)
		})
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.http.Addr).Msg("Starting server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the HTTP handler (useful for testing)
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
	})
}

// handleVersion returns server version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version": config.Version,
	})
}

// authenticate attaches the principal behind X-API-KEY to the request
// context. Requests without a key proceed anonymously and fail at the first
// authority check.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		var principal auth.Principal
		if s.config.SystemAPIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.config.SystemAPIKey)) == 1 {
			principal = auth.SystemPrincipal("system")
		} else {
			apiKey, err := s.applications.GetKey(r.Context(), key, authenticator)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			principal = auth.ApplicationPrincipal(apiKey.Key, apiKey.Application.Key)
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requestLogger logs one line per request through zerolog
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("Handled request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	var resp ErrorResponse
	resp.Error.Message = message
	resp.Error.Status = status
	s.writeJSON(w, status, resp)
}

// fail writes err with the status its classification calls for. Details of
// infrastructure failures stay in the log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		s.writeError(w, status, http.StatusText(status))
		return
	}
	s.logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.IsAny(err, models.ErrEntityNotFound, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, models.ErrUnauthenticated, models.ErrUnknownApiKey, models.ErrRevokedApiKeyUsed):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.IsAny(err, models.ErrDuplicateRecords, models.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, models.ErrNotImplemented):
		return http.StatusNotImplemented
	case models.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
