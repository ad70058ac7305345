package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("SWARM_STORE_BACKEND", "memory")
	t.Setenv("SWARM_REDIS_URL", "")
	t.Setenv("SWARM_LLM_GEMINI_API_KEY", "")
	cfg, err := config.LoadWithOptions(config.Options{})
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T) *application {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), memoryConfig(t), log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func TestNewApplication_MemoryBackend(t *testing.T) {
	app := newTestApp(t)
	assert.Nil(t, app.db)
	assert.Nil(t, app.redis)
	assert.NotNil(t, app.dispatch)
	assert.NotNil(t, app.ingest)
	assert.NotNil(t, app.runner)
}

func TestNewApplication_PostgresNeedsURL(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store.Backend = "postgres"
	cfg.Database.URL = ""
	_, err := newApplication(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	app := newTestApp(t)
	router := app.setupRouter()

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("register then metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/swarm/register",
			strings.NewReader(`{"worker_id":"w1","capabilities":{"ram_gb":64}}`)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/swarm/get_work",
			strings.NewReader(`{"worker_id":"w1"}`)))
		require.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "dispatch_duration_seconds")
		assert.Contains(t, w.Body.String(), "go_goroutines")
	})

	t.Run("status", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/swarm/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var stats struct {
			Tasks   map[domain.TaskStatus]int64 `json:"tasks"`
			Workers struct {
				Total int `json:"total"`
			} `json:"workers"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, 1, stats.Workers.Total)
	})
}

func TestStartHTTPServer_StopsOnCancel(t *testing.T) {
	app := newTestApp(t)
	app.config.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
