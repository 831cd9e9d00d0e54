// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jobrunner/verdant/internal/config"
	"github.com/jobrunner/verdant/internal/ports/input"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server *http.Server
	router *mux.Router
	health input.HealthChecker
	runs   input.RunTrigger
	layers input.LayerQuery
	logger *slog.Logger
	config config.ServerConfig
	extra  []mux.MiddlewareFunc
}

// NewServer creates a new HTTP server. runs and layers may be nil, which
// leaves their routes unregistered. Extra middleware runs after routing, so it
// can see the matched route.
func NewServer(
	cfg config.ServerConfig,
	health input.HealthChecker,
	runs input.RunTrigger,
	layers input.LayerQuery,
	logger *slog.Logger,
	middleware ...mux.MiddlewareFunc,
) *Server {
	s := &Server{
		health: health,
		runs:   runs,
		layers: layers,
		logger: logger,
		config: cfg,
		extra:  middleware,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	s.jsonErrors(r)

	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.extra...)

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()
	s.jsonErrors(api)

	if s.runs != nil {
		api.HandleFunc("/runs", s.handleTriggerRun).Methods(http.MethodPost)
		api.HandleFunc("/runs/latest", s.handleLatestRun).Methods(http.MethodGet)
	}

	if s.layers != nil {
		api.HandleFunc("/fields", s.handleFields).Methods(http.MethodGet)
		api.HandleFunc("/fields/{field}/summary", s.handleFieldSummary).Methods(http.MethodGet)
		api.HandleFunc("/features", s.handleFeatures).Methods(http.MethodGet)
	}

	// OpenAPI spec
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)

	return r
}

// jsonErrors answers unmatched paths and methods with JSON errors. Subrouters
// need their own handlers, otherwise a method mismatch below them becomes a 404.
func (s *Server) jsonErrors(r *mux.Router) {
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusNotFound, "no route for "+req.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path)
	})
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// requestIDHeader carries the request ID; a client-supplied value is kept.
const requestIDHeader = "X-Request-ID"

// loggingMiddleware tags each request with an ID and logs it on completion.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path,
					"request_id", w.Header().Get(requestIDHeader))
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
