package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dyluth/chalk/internal/stats"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *HealthServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.Handler().ServeHTTP(w, req)
	return w
}

// TestHealthCheckEndpoint_MethodNotAllowed verifies non-GET requests are rejected.
func TestHealthCheckEndpoint_MethodNotAllowed(t *testing.T) {
	server := NewHealthServer(blackboard.NewMemoryStore(nil), nil, "", zerolog.Nop())

	w := serve(t, server, http.MethodPost, "/healthz")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// TestHealthCheckResponse verifies the JSON response structure.
func TestHealthCheckResponse(t *testing.T) {
	t.Run("healthy with memory store", func(t *testing.T) {
		server := NewHealthServer(blackboard.NewMemoryStore(nil), nil, "", zerolog.Nop())

		w := serve(t, server, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "connected", response.Store)
	})

	t.Run("unhealthy when Redis unavailable", func(t *testing.T) {
		// Port 9 is the discard protocol - connections will fail immediately
		store, err := blackboard.NewRedisStore(&redis.Options{
			Addr:         "localhost:9",
			DialTimeout:  50 * time.Millisecond,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
			MaxRetries:   -1,
		}, "test", nil)
		require.NoError(t, err)
		defer store.Close()

		server := NewHealthServer(store, nil, "", zerolog.Nop())

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(ctx)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "disconnected", response.Store)
		assert.NotEmpty(t, response.Error)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStatsEndpoint(t *testing.T) {
	ctx := context.Background()
	store := blackboard.NewMemoryStore(blackboard.Weights{})
	id, err := store.Post(ctx, "question_request", nil)
	require.NoError(t, err)
	require.NoError(t, store.ApplyOutcome(ctx, id, "critic", &blackboard.Outcome{Confidence: 1, QualityScore: blackboard.Score(0.9)}))
	require.NoError(t, store.SetState(ctx, id, blackboard.StateCompleted))

	t.Run("served by reporter", func(t *testing.T) {
		reporter := stats.NewReporter(store, []blackboard.Role{"critic", "idle"}, time.Minute)
		server := NewHealthServer(store, reporter, "", zerolog.Nop())

		w := serve(t, server, http.MethodGet, "/stats")
		require.Equal(t, http.StatusOK, w.Code)

		var report blackboard.Statistics
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		assert.Equal(t, 1, report.Total)
		assert.Equal(t, 1, report.Completed)
		assert.InDelta(t, 0.9, report.AverageQualityOfCompleted, 1e-9)
		assert.Equal(t, 1, report.PerRoleContributions["critic"])
		assert.Equal(t, 0, report.PerRoleContributions["idle"])
	})

	t.Run("falls back to the store", func(t *testing.T) {
		server := NewHealthServer(store, nil, "", zerolog.Nop())

		w := serve(t, server, http.MethodGet, "/stats")
		require.Equal(t, http.StatusOK, w.Code)

		var report blackboard.Statistics
		require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
		assert.Equal(t, 1, report.Total)
	})
}

func TestItemEndpoint(t *testing.T) {
	ctx := context.Background()
	store := blackboard.NewMemoryStore(nil)
	id, err := store.Post(ctx, "question_request", blackboard.Payload{"topic": "Go"})
	require.NoError(t, err)

	server := NewHealthServer(store, nil, "", zerolog.Nop())

	t.Run("found", func(t *testing.T) {
		w := serve(t, server, http.MethodGet, "/items/"+id)
		require.Equal(t, http.StatusOK, w.Code)

		var item blackboard.Item
		require.NoError(t, json.NewDecoder(w.Body).Decode(&item))
		assert.Equal(t, id, item.ID)
		assert.Equal(t, blackboard.StatePending, item.State)
		assert.Equal(t, "Go", item.Payload["topic"])
	})

	t.Run("not found", func(t *testing.T) {
		w := serve(t, server, http.MethodGet, "/items/missing")
		assert.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Contains(t, body["error"], "item not found")
	})
}

func TestHealthServer_StartShutdown(t *testing.T) {
	server := NewHealthServer(blackboard.NewMemoryStore(nil), nil, "127.0.0.1:0", zerolog.Nop())
	require.NoError(t, server.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	// shutting down a server that never started is a no-op
	assert.NoError(t, NewHealthServer(nil, nil, "", zerolog.Nop()).Shutdown(ctx))
}
