// Package httpserver provides an HTTP server that runs as an application service.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platforma-dev/migrator/log"
)

// Middleware wraps an http.Handler.
type Middleware interface {
	Wrap(http.Handler) http.Handler
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(http.Handler) http.Handler

// Wrap calls f(h).
func (f MiddlewareFunc) Wrap(h http.Handler) http.Handler {
	return f(h)
}

// Server is an HTTP server with graceful shutdown.
type Server struct {
	addr            string
	shutdownTimeout time.Duration
	router          *mux.Router
}

// New creates a Server listening on addr (for example ":9090"). On context
// cancellation in-flight requests get shutdownTimeout to finish.
func New(addr string, shutdownTimeout time.Duration) *Server {
	return &Server{addr: addr, shutdownTimeout: shutdownTimeout, router: mux.NewRouter()}
}

// Handle registers handler for GET requests to path.
func (s *Server) Handle(path string, handler http.Handler) {
	s.router.Handle(path, handler).Methods(http.MethodGet)
}

// HandleFunc registers handler for GET requests to path.
func (s *Server) HandleFunc(path string, handler func(http.ResponseWriter, *http.Request)) {
	s.router.HandleFunc(path, handler).Methods(http.MethodGet)
}

// Use adds middleware applied to every route.
func (s *Server) Use(m Middleware) {
	s.router.Use(m.Wrap)
}

// UseFunc adds a middleware function applied to every route.
func (s *Server) UseFunc(m func(http.Handler) http.Handler) {
	s.Use(MiddlewareFunc(m))
}

// ServeHTTP serves the registered routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	log.InfoContext(ctx, "http server stopped")
	return nil
}
