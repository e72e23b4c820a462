package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewServer(t *testing.T) {
	server := NewServer(":9090", slog.Default())

	if server.Addr() != ":9090" {
		t.Errorf("Addr() = %v, want :9090", server.Addr())
	}

	if server.Router() == nil {
		t.Error("Router() returned nil")
	}
}

func TestNewServer_NilLogger(t *testing.T) {
	// A nil logger must not panic; the server falls back to slog.Default.
	server := NewServer(":0", nil)

	if server.Router() == nil {
		t.Error("Router() returned nil")
	}
}

func TestServer_RouterServesRegisteredRoutes(t *testing.T) {
	server := NewServer(":0", slog.Default())
	router := server.Router()

	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %v, want %v", w.Code, http.StatusOK)
	}
	if w.Body.String() != "pong" {
		t.Errorf("body = %v, want pong", w.Body.String())
	}
}

func TestServer_NotFound(t *testing.T) {
	server := NewServer(":0", slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	server := NewServer(":0", slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v, want nil", err)
	}
}
