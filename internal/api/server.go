// Package api serves the read-only JSON view of the console's activity log.
// All endpoints live under /console/api/v1/ so they never collide with the
// page routes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"bankruptcy-console/internal/config"
	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
)

const (
	// Prefix is the base path for all API endpoints.
	Prefix = "/console/api/v1"

	// Overview responses are cached briefly so a dashboard refresh storm
	// does not hammer sqlite.
	overviewCacheDuration = 2 * time.Second

	defaultListLimit = 50
	maxListLimit     = 500
)

// HealthReporter exposes the last upstream health check.
type HealthReporter interface {
	Status() supervisor.HealthStatus
}

// InFlightLister lists calls currently waiting on the prediction API.
type InFlightLister interface {
	InFlight() []supervisor.CallInfo
}

// Server handles API requests. Store, health, calls and events may each be
// nil; the matching endpoints then answer 503.
type Server struct {
	store  storage.Store
	cfg    config.Config
	health HealthReporter
	calls  InFlightLister
	events *supervisor.EventBus
	logger *slog.Logger

	overviewMu    sync.RWMutex
	overviewCache map[time.Duration]*cachedOverview
	now           func() time.Time
}

type cachedOverview struct {
	data      *OverviewResponse
	expiresAt time.Time
}

// NewServer creates an API server.
func NewServer(store storage.Store, cfg config.Config, health HealthReporter, calls InFlightLister, events *supervisor.EventBus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:         store,
		cfg:           cfg,
		health:        health,
		calls:         calls,
		events:        events,
		logger:        logger,
		overviewCache: make(map[time.Duration]*cachedOverview),
		now:           time.Now,
	}
}

// ServeHTTP routes requests under Prefix.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, Prefix)
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch {
	case path == "/overview":
		s.handleOverview(w, r)
	case path == "/calls":
		s.handleListCalls(w, r)
	case strings.HasPrefix(path, "/calls/"):
		s.handleGetCall(w, r, strings.TrimPrefix(path, "/calls/"))
	case path == "/ops":
		s.handleOps(w, r)
	case path == "/inflight":
		s.handleInFlight(w, r)
	case path == "/config":
		s.handleConfig(w, r)
	case path == "/health":
		s.handleHealth(w, r)
	case path == "/events":
		s.handleEvents(w, r)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseWindow maps ?window= to a duration. Unknown values fall back to 24h.
func parseWindow(r *http.Request) time.Duration {
	switch w := r.URL.Query().Get("window"); w {
	case "1h":
		return time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "24h", "":
		return 24 * time.Hour
	default:
		if d, err := time.ParseDuration(w); err == nil && d > 0 {
			return d
		}
		return 24 * time.Hour
	}
}

// parseInt returns def for empty, malformed or negative input.
func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
