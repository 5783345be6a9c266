package api

import (
	"net/http"

	"bankruptcy-console/internal/storage"
	"bankruptcy-console/internal/supervisor"
)

// OverviewResponse contains summary statistics and time series data.
type OverviewResponse struct {
	Window  string      `json:"window"`
	Summary SummaryData `json:"summary"`
	Series  SeriesData  `json:"series"`
}

// SummaryData is the window overview plus the live in-flight count.
type SummaryData struct {
	storage.Overview
	InFlight int `json:"in_flight"`
}

// SeriesData contains time-binned chart data.
type SeriesData struct {
	CallCount   []storage.DataPoint `json:"call_count"`
	ErrorCount  []storage.DataPoint `json:"error_count"`
	DurationP95 []storage.DataPoint `json:"duration_p95"`
	Records     []storage.DataPoint `json:"records"`
}

// handleOverview returns summary statistics and time series.
// GET /console/api/v1/overview?window=1h|24h|7d
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	window := parseWindow(r)

	s.overviewMu.RLock()
	cached, ok := s.overviewCache[window]
	s.overviewMu.RUnlock()
	if ok && s.now().Before(cached.expiresAt) {
		s.writeJSON(w, cached.data)
		return
	}

	overview, err := s.store.Overview(window)
	if err != nil {
		s.logger.Error("failed to get overview", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}
	inFlight, err := s.store.InFlightCount()
	if err != nil {
		s.logger.Warn("failed to count in-flight calls", "err", err)
	}

	series := func(metric string) []storage.DataPoint {
		points, err := s.store.Series(storage.SeriesOptions{Window: window, Metric: metric})
		if err != nil {
			s.logger.Warn("failed to get series", "metric", metric, "err", err)
		}
		return points
	}

	resp := &OverviewResponse{
		Window:  window.String(),
		Summary: SummaryData{Overview: *overview, InFlight: inFlight},
		Series: SeriesData{
			CallCount:   series(storage.MetricCallCount),
			ErrorCount:  series(storage.MetricErrorCount),
			DurationP95: series(storage.MetricDurationP95),
			Records:     series(storage.MetricRecords),
		},
	}

	s.overviewMu.Lock()
	s.overviewCache[window] = &cachedOverview{
		data:      resp,
		expiresAt: s.now().Add(overviewCacheDuration),
	}
	s.overviewMu.Unlock()

	s.writeJSON(w, resp)
}

// CallListResponse contains a page of calls.
type CallListResponse struct {
	Calls  []storage.Call `json:"calls"`
	Count  int            `json:"count"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// handleListCalls returns a page of calls, newest first.
// GET /console/api/v1/calls?limit=50&offset=0&status=&op=&window=24h
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), defaultListLimit)
	if limit == 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	opts := storage.ListOptions{
		Limit:     limit,
		Offset:    parseInt(q.Get("offset"), 0),
		Op:        q.Get("op"),
		SessionID: q.Get("session"),
		Window:    parseWindow(r),
	}
	if raw := q.Get("status"); raw != "" {
		st := storage.Status(raw)
		switch st {
		case storage.StatusInFlight, storage.StatusSuccess, storage.StatusError, storage.StatusRejected:
		default:
			s.writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		opts.Status = &st
	}

	calls, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("failed to list calls", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list calls")
		return
	}
	if calls == nil {
		calls = []storage.Call{}
	}

	s.writeJSON(w, CallListResponse{
		Calls:  calls,
		Count:  len(calls),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// handleGetCall returns a single call.
// GET /console/api/v1/calls/{id}
func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request, id string) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}
	if id == "" {
		s.writeError(w, http.StatusNotFound, "call not found")
		return
	}

	c, err := s.store.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get call", "err", err, "id", id)
		s.writeError(w, http.StatusInternalServerError, "failed to get call")
		return
	}
	if c == nil {
		s.writeError(w, http.StatusNotFound, "call not found")
		return
	}
	s.writeJSON(w, c)
}

// OpListResponse contains per-operation rollups.
type OpListResponse struct {
	Ops []storage.OpStat `json:"ops"`
}

// handleOps returns per-operation statistics.
// GET /console/api/v1/ops?window=24h
func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	stats, err := s.store.OpStats(parseWindow(r))
	if err != nil {
		s.logger.Error("failed to get op stats", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get op stats")
		return
	}
	if stats == nil {
		stats = []storage.OpStat{}
	}
	s.writeJSON(w, OpListResponse{Ops: stats})
}

// handleInFlight lists calls still waiting on the prediction API.
// GET /console/api/v1/inflight
func (s *Server) handleInFlight(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		s.writeError(w, http.StatusServiceUnavailable, "call tracking not available")
		return
	}
	s.writeJSON(w, map[string]any{"calls": s.calls.InFlight()})
}

// ConfigResponse is the effective configuration minus secrets.
type ConfigResponse struct {
	APIBaseURL         string   `json:"api_base_url"`
	RequestTimeout     string   `json:"request_timeout"`
	UploadMaxBytes     int64    `json:"upload_max_bytes"`
	UploadAllowedTypes []string `json:"upload_allowed_types"`
	SessionStore       string   `json:"session_store"`
	SessionTTL         string   `json:"session_ttl"`
	Storage            string   `json:"storage"`
	StorageMaxRows     int      `json:"storage_max_rows"`
	HealthCheckPath    string   `json:"health_check_path"`
	Baseline           struct {
		Accuracy  float64 `json:"accuracy"`
		Precision float64 `json:"precision"`
		Recall    float64 `json:"recall"`
		F1        float64 `json:"f1"`
	} `json:"baseline"`
	Features struct {
		API     bool `json:"api"`
		Metrics bool `json:"metrics"`
		Storage bool `json:"storage"`
	} `json:"features"`
}

// handleConfig returns the current configuration.
// GET /console/api/v1/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	features := s.cfg.Features()

	resp := ConfigResponse{
		APIBaseURL:         s.cfg.APIBaseURL,
		RequestTimeout:     s.cfg.RequestTimeout.String(),
		UploadMaxBytes:     s.cfg.UploadMaxBytes,
		UploadAllowedTypes: s.cfg.UploadAllowedTypes,
		SessionStore:       string(s.cfg.SessionStore),
		SessionTTL:         s.cfg.SessionTTL.String(),
		Storage:            string(s.cfg.Storage),
		StorageMaxRows:     s.cfg.StorageMaxRows,
		HealthCheckPath:    s.cfg.HealthCheckPath,
	}
	resp.Baseline.Accuracy = s.cfg.Baseline.Accuracy
	resp.Baseline.Precision = s.cfg.Baseline.Precision
	resp.Baseline.Recall = s.cfg.Baseline.Recall
	resp.Baseline.F1 = s.cfg.Baseline.F1
	resp.Features.API = features.API
	resp.Features.Metrics = features.Metrics
	resp.Features.Storage = features.Storage

	s.writeJSON(w, resp)
}

// handleHealth returns the last upstream health check.
// GET /console/api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health checking not available")
		return
	}
	st := s.health.Status()
	if !st.Healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, st)
}

// handleEvents streams the live activity feed as Server-Sent Events.
// GET /console/api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			frame, err := supervisor.FormatSSEEvent(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte(frame)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
