// Package api provides the HTTP REST surface for the dashboard daemon.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/diagnostics"
	"github.com/Mowd/claude-dashboard/internal/events"
	"github.com/Mowd/claude-dashboard/internal/logging"
	"github.com/Mowd/claude-dashboard/internal/workflow"
)

// Orchestrator is the engine surface the API depends on.
type Orchestrator interface {
	StartWorkflow(ctx context.Context, req workflow.StartRequest) (string, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
}

// Server exposes workflow management over HTTP plus an SSE event feed.
type Server struct {
	router chi.Router
	store  core.Store
	engine Orchestrator
	bus    *events.Bus
	logger *logging.Logger
	system *diagnostics.Collector

	allowedOrigins []string
	requestTimeout time.Duration
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithAllowedOrigins sets the CORS origin allowlist.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithRequestTimeout bounds non-streaming request handling.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.requestTimeout = d }
}

// NewServer creates the API server.
func NewServer(store core.Store, engine Orchestrator, bus *events.Bus, opts ...ServerOption) *Server {
	s := &Server{
		store:          store,
		engine:         engine,
		bus:            bus,
		logger:         logging.NewNop(),
		system:         diagnostics.NewCollector(),
		allowedOrigins: []string{"http://localhost:3000"},
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			// The SSE feed must outlive the request timeout, so the
			// timeout applies only to the REST routes.
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleStartWorkflow)
			r.Get("/metrics", s.handleMetrics)
			r.Post("/cleanup", s.handleCleanup)

			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", s.handleGetWorkflow)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/cancel", s.handleCancel)
			})
		})

		r.Get("/system", s.handleSystem)
		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps a domain error to its HTTP status.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.GetCategory(err) {
	case core.ErrCatValidation:
		status = http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatState:
		status = http.StatusConflict
	case core.ErrCatTimeout:
		status = http.StatusGatewayTimeout
	}
	s.respondError(w, status, err.Error())
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSystem returns a host resource snapshot.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.system.Collect())
}

// ListenAndServe starts the HTTP server and shuts it down gracefully
// when the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
