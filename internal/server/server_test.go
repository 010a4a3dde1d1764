package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"videoflix-pipeline/internal/api"
	"videoflix-pipeline/internal/observability/metrics"
	"videoflix-pipeline/internal/pipeline"
	"videoflix-pipeline/internal/storage"
)

func newTestServer(t *testing.T, tokenHash string) *Server {
	t.Helper()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	scheduler, err := pipeline.NewScheduler(pipeline.Config{
		StagingRoot: filepath.Join(t.TempDir(), "staging"),
		PublishRoot: filepath.Join(t.TempDir(), "publish"),
	}, pipeline.SchedulerOptions{Repository: store})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	handler, err := api.NewHandler(api.Config{Scheduler: scheduler, TokenHash: tokenHash})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv, err := New(handler, Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: metrics.New(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestAuthGatesAPIRoutesOnly(t *testing.T) {
	const token = "super-secret-admin-token"
	hash, err := api.HashToken(token)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	srv := newTestServer(t, hash)
	routes := srv.HTTPServer().Handler

	r := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated api call = %d, want 401", w.Code)
	}

	r = httptest.NewRequest(http.MethodPost, "/api/jobs",
		strings.NewReader(`{"videoId":"video-1","sourcePath":"/uploads/clip.mp4"}`))
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	routes.ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("authenticated enqueue = %d, want 202: %s", w.Code, w.Body.String())
	}

	// Probes and scrapes bypass the token gate.
	for _, path := range []string{"/healthz", "/metrics"} {
		r = httptest.NewRequest(http.MethodGet, path, nil)
		w = httptest.NewRecorder()
		routes.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, w.Code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("generates when absent", func(t *testing.T) {
		handler := requestIDMiddlewareWithGenerator(func() string { return "generated-id" }, echo)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if got := w.Header().Get("X-Request-Id"); got != "generated-id" {
			t.Fatalf("X-Request-Id = %q, want generated", got)
		}
	})

	t.Run("echoes caller id", func(t *testing.T) {
		handler := requestIDMiddleware(echo)
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		r.Header.Set("X-Request-Id", "caller-id")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		if got := w.Header().Get("X-Request-Id"); got != "caller-id" {
			t.Fatalf("X-Request-Id = %q, want caller-id", got)
		}
	})
}

func TestMetricsReflectHandledRequests(t *testing.T) {
	recorder := metrics.New()
	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	scheduler, err := pipeline.NewScheduler(pipeline.Config{
		StagingRoot: filepath.Join(t.TempDir(), "staging"),
		PublishRoot: filepath.Join(t.TempDir(), "publish"),
	}, pipeline.SchedulerOptions{Repository: store, Recorder: recorder})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	handler, err := api.NewHandler(api.Config{Scheduler: scheduler})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv, err := New(handler, Config{
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: recorder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	routes := srv.HTTPServer().Handler

	w := httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	routes.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `videoflix_http_requests_total{method="GET",path="/healthz",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", w.Body.String())
	}
}
