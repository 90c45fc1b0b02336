// Package server exposes the pipeline over HTTP: the query endpoint
// used by the frontend, an admin endpoint for schema re-ingestion, and a
// health probe.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/schema"
	"github.com/stoatlab/stoat/pkg/usecase/query"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8400"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout caps header reads so a slow client cannot hold
	// a connection open indefinitely.
	ReadHeaderTimeout = 10 * time.Second

	ReadTimeout  = 30 * time.Second
	WriteTimeout = 60 * time.Second
	IdleTimeout  = 120 * time.Second
)

// Server routes HTTP requests into the pipeline.
type Server struct {
	mux *http.ServeMux
}

// NewInput contains the collaborators of the HTTP surface.
type NewInput struct {
	Pipeline *query.UseCase
	Ingester *schema.Ingester

	// SchemaPath is re-read on each reingest request so edited
	// definitions take effect without a restart.
	SchemaPath string

	// Archive serves stored query results. The results endpoint
	// returns 404 when nil.
	Archive adapter.Storage
}

// New creates the server with all routes registered.
func New(input NewInput) *Server {
	mux := http.NewServeMux()

	qh := &queryHandler{pipeline: input.Pipeline}
	ah := &adminHandler{ingester: input.Ingester, schemaPath: input.SchemaPath}
	rh := &resultHandler{archive: input.Archive}

	mux.HandleFunc("POST /api/query", qh.handleQuery)
	mux.HandleFunc("GET /api/results/{id}", rh.handleGetResult)
	mux.HandleFunc("POST /api/admin/reingest", ah.handleReingest)
	mux.HandleFunc("GET /health", handleHealth)

	return &Server{mux: mux}
}

// Handler returns the route handler wrapped in recovery and request
// logging middleware.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	logger := logging.From(ctx)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
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

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
