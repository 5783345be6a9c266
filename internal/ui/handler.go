// Package ui serves the console pages and routes every other endpoint the
// binary exposes: health, metrics, static assets and the read API.
package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bankruptcy-console/internal/api"
	"bankruptcy-console/internal/backend"
	"bankruptcy-console/internal/config"
	"bankruptcy-console/internal/features"
	"bankruptcy-console/internal/session"
	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
	"bankruptcy-console/web"
)

// Backend is the part of the prediction API client the pages use.
type Backend interface {
	PredictSingle(ctx context.Context, rec features.Record) (backend.Prediction, error)
	PredictBulk(ctx context.Context, up backend.Upload) ([]backend.Prediction, error)
	UploadTrainingData(ctx context.Context, up backend.Upload) (backend.UploadResult, error)
	Retrain(ctx context.Context) (backend.RetrainResult, error)
	SaveModel(ctx context.Context, modelID string) (backend.SaveResult, error)
}

// Handler is the console's root http.Handler.
type Handler struct {
	cfg      config.Config
	features config.Features
	client   Backend
	sessions session.Store
	store    storage.Store
	tracker  *supervisor.Tracker
	metrics  *supervisor.Metrics
	health   *supervisor.HealthChecker
	api      *api.Server
	logger   *slog.Logger

	pages map[string]*template.Template
	root  http.Handler
}

// NewHandler wires the routes. store, metrics, health and apiServer may be
// nil when the matching feature is off.
func NewHandler(
	cfg config.Config,
	client Backend,
	sessions session.Store,
	store storage.Store,
	tracker *supervisor.Tracker,
	metrics *supervisor.Metrics,
	health *supervisor.HealthChecker,
	apiServer *api.Server,
	logger *slog.Logger,
) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = supervisor.NewTracker(store, metrics, nil, logger)
	}

	templates, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	pages, err := loadPages(templates)
	if err != nil {
		return nil, err
	}
	static, err := web.Static()
	if err != nil {
		return nil, fmt.Errorf("load static assets: %w", err)
	}

	h := &Handler{
		cfg:      cfg,
		features: cfg.Features(),
		client:   client,
		sessions: sessions,
		store:    store,
		tracker:  tracker,
		metrics:  metrics,
		health:   health,
		api:      apiServer,
		logger:   logger,
		pages:    pages,
	}
	h.routes(static)
	return h, nil
}

func (h *Handler) routes(static fs.FS) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.handlePredictPage)
	mux.HandleFunc("POST /predict/single", h.handlePredictSingle)
	mux.HandleFunc("POST /predict/bulk", h.handlePredictBulk)

	mux.HandleFunc("GET /retrain", h.handleRetrainPage)
	mux.HandleFunc("POST /retrain/upload", h.handleUpload)
	mux.HandleFunc("POST /retrain/run", h.handleRetrain)
	mux.HandleFunc("POST /retrain/save", h.handleSave)
	mux.HandleFunc("POST /retrain/reset", h.handleReset)

	mux.HandleFunc("GET /activity", h.handleActivity)

	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /healthz/upstream", h.handleHealthzUpstream)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	if h.features.API && h.api != nil {
		mux.Handle(api.Prefix+"/", h.api)
	}

	h.root = accessLog(mux, h.logger)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.root.ServeHTTP(w, r)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.features.Metrics || h.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	promhttp.Handler().ServeHTTP(w, r)
}

// handleHealthz reports liveness of the console itself. An unreachable
// prediction API does not make the console unhealthy.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleHealthzUpstream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.health == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":    true,
			"last_check": time.Now().Format(time.RFC3339),
		})
		return
	}

	st := h.health.Status()
	if !st.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}
