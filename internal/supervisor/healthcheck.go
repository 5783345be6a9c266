package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Pinger issues a GET against the upstream and reports the status code.
type Pinger interface {
	Ping(ctx context.Context, path string) (int, error)
}

// HealthStatus is a snapshot of the last check.
type HealthStatus struct {
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
	LastError  string    `json:"last_error,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// HealthChecker periodically pings the prediction API.
type HealthChecker struct {
	pinger        Pinger
	path          string
	checkInterval time.Duration
	timeout       time.Duration
	status        atomic.Pointer[HealthStatus]
	metrics       *Metrics
	logger        *slog.Logger
}

// NewHealthChecker creates a checker. It reports unhealthy until the first
// check completes; call Run to start checking.
func NewHealthChecker(pinger Pinger, path string, checkInterval, timeout time.Duration, metrics *Metrics, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	hc := &HealthChecker{
		pinger:        pinger,
		path:          path,
		checkInterval: checkInterval,
		timeout:       timeout,
		metrics:       metrics,
		logger:        logger,
	}
	hc.status.Store(&HealthStatus{})
	return hc
}

// Run checks immediately and then every interval until ctx is done.
func (hc *HealthChecker) Run(ctx context.Context) error {
	hc.Check(ctx)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Check performs a single health check. 2xx and 3xx count as healthy.
func (hc *HealthChecker) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	code, err := hc.pinger.Ping(ctx, hc.path)
	st := HealthStatus{LastCheck: time.Now(), StatusCode: code}
	switch {
	case err != nil:
		st.LastError = err.Error()
	case code >= 200 && code < 400:
		st.Healthy = true
	default:
		st.LastError = fmt.Sprintf("status code: %d", code)
	}

	prev := hc.status.Swap(&st)
	if st.LastError != "" {
		hc.logger.Debug("upstream health check failed", "error", st.LastError)
	}
	if prev.Healthy != st.Healthy && !prev.LastCheck.IsZero() {
		hc.logger.Info("upstream health changed", "healthy", st.Healthy)
	}
	hc.metrics.UpdateUpstreamHealth(st.Healthy)
	return st
}

// Status returns the result of the last check.
func (hc *HealthChecker) Status() HealthStatus {
	return *hc.status.Load()
}

// Healthy returns whether the upstream is currently healthy.
func (hc *HealthChecker) Healthy() bool {
	return hc.status.Load().Healthy
}
