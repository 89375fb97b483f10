package httpserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platforma-dev/migrator/httpserver"
	"github.com/platforma-dev/migrator/log"
)

func TestServer(t *testing.T) {
	t.Parallel()

	srv := httpserver.New("127.0.0.1:0", time.Second)
	srv.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		traceID, _ := r.Context().Value(log.TraceIDKey).(string)
		_, _ = w.Write([]byte("pong " + traceID))
	})
	srv.Use(log.NewTraceIDMiddleware(nil, ""))

	t.Run("routes with middleware", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		traceID := w.Header().Get("Migrator-Trace-Id")
		if traceID == "" {
			t.Fatal("expected a trace id header")
		}
		if w.Body.String() != "pong "+traceID {
			t.Errorf("expected trace id in context, got %q", w.Body.String())
		}
	})

	t.Run("only GET is routed", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", w.Code)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestServerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := httpserver.New("127.0.0.1:0", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %s", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}
