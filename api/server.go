// Package api provides the HTTP REST API.
//
// Endpoints:
//
//	GET    /health                            liveness probe
//	GET    /ready                             readiness probe
//	POST   /api/documents                     ingest a document (async)
//	GET    /api/documents                     list the caller's documents
//	GET    /api/documents/{id}                document with processing status
//	DELETE /api/documents/{id}                delete a document
//	GET    /api/jobs/{id}                     processing job status
//	POST   /api/jobs/{id}/retry               retry a failed job
//	POST   /api/sessions                      create a session
//	GET    /api/sessions                      list the caller's sessions
//	GET    /api/sessions/{id}                 session detail
//	GET    /api/sessions/{id}/turns           full transcript
//	DELETE /api/sessions/{id}                 delete a session
//	POST   /api/sessions/{id}/messages        ask (blocking JSON)
//	POST   /api/sessions/{id}/messages/stream ask (SSE streaming)
//
// Callers identify themselves with the X-Owner-ID header; an upstream
// auth proxy is expected to set it.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inkwellhq/inkwell/internal/log"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = ":8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to keep slow-client
	// connections from pinning workers.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Streaming responses are exempted via http.NewResponseController.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the REST API.
type Server struct {
	router *chi.Mux
	logger log.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(docs *DocumentHandler, sessions *SessionHandler, chat *ChatHandler, health *HealthHandler, corsOrigins []string, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware(corsOrigins))

	health.RegisterRoutes(router)

	router.Route("/api", func(r chi.Router) {
		r.Use(requireOwner)
		docs.RegisterRoutes(r)
		sessions.RegisterRoutes(r)
		chat.RegisterRoutes(r)
	})

	return &Server{router: router, logger: logger}
}

// Handler returns the routing handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
