package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultHealthAddr is where the status server listens when no address is configured.
const DefaultHealthAddr = ":8080"

// StatsProvider serves the statistics report for GET /stats.
type StatsProvider interface {
	Statistics(ctx context.Context) (*blackboard.Statistics, error)
}

// HealthServer provides HTTP health and status endpoints for the orchestrator.
type HealthServer struct {
	store  blackboard.Store
	stats  StatsProvider
	addr   string
	logger zerolog.Logger
	server *http.Server
}

// NewHealthServer creates a new status server. An empty addr uses DefaultHealthAddr.
func NewHealthServer(store blackboard.Store, stats StatsProvider, addr string, logger zerolog.Logger) *HealthServer {
	if addr == "" {
		addr = DefaultHealthAddr
	}
	return &HealthServer{
		store:  store,
		stats:  stats,
		addr:   addr,
		logger: logger,
	}
}

// Handler returns the router serving /healthz, /stats and /items/{id}.
func (h *HealthServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/healthz", h.healthCheckHandler)
	r.Get("/stats", h.statsHandler)
	r.Get("/items/{id}", h.itemHandler)
	return r
}

// Start starts the HTTP server in the background.
func (h *HealthServer) Start() error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error().Err(err).Str("addr", h.addr).Msg("health server failed")
		}
	}()

	h.logger.Info().Str("addr", h.addr).Msg("health server listening")
	return nil
}

// Shutdown gracefully shuts down the server.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// healthCheckHandler handles GET /healthz.
// Returns 200 OK if the store is reachable, 503 Service Unavailable otherwise.
func (h *HealthServer) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Store: "connected"}

	if err := h.store.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Store = "disconnected"
		response.Error = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	respondJSON(w, http.StatusOK, response)
}

// statsHandler handles GET /stats.
func (h *HealthServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		report *blackboard.Statistics
		err    error
	)
	if h.stats != nil {
		report, err = h.stats.Statistics(r.Context())
	} else {
		report, err = h.store.Statistics(r.Context())
	}
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// itemHandler handles GET /items/{id}.
func (h *HealthServer) itemHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *HealthServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		event := h.logger.Debug()
		if ww.Status() >= 500 {
			event = h.logger.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Error  string `json:"error,omitempty"`
}

func statusFor(err error) int {
	switch {
	case blackboard.IsNotFound(err):
		return http.StatusNotFound
	case blackboard.IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
