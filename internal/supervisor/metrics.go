// Package supervisor watches the console's traffic to the prediction API:
// Prometheus metrics for every call and a periodic upstream health check.
package supervisor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the console.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlightRequests prometheus.Gauge
	upstreamHealthy  prometheus.Gauge
	predictionsTotal *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	uploadBytes      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// NewMetrics returns the process-wide collector, registering it on first use.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bankruptcy_console_requests_total",
					Help: "Calls to the prediction API by operation and outcome",
				},
				[]string{"op", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name: "bankruptcy_console_request_duration_seconds",
					Help: "Duration of calls to the prediction API",
					// Retraining runs for minutes on large datasets.
					Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"op"},
			),
			inFlightRequests: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "bankruptcy_console_requests_in_flight",
					Help: "Calls to the prediction API currently waiting for a response",
				},
			),
			upstreamHealthy: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "bankruptcy_console_upstream_healthy",
					Help: "Prediction API health (1 = healthy, 0 = unhealthy)",
				},
			),
			predictionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bankruptcy_console_predictions_total",
					Help: "Classified records by risk level",
				},
				[]string{"risk"},
			),
			rejectedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bankruptcy_console_rejected_total",
					Help: "User actions refused before any request was sent",
				},
				[]string{"op", "reason"},
			),
			uploadBytes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bankruptcy_console_upload_bytes_total",
					Help: "Dataset bytes sent to the prediction API",
				},
				[]string{"op"},
			),
		}
	})
	return metricsInst
}

// RecordRequest records a completed call.
func (m *Metrics) RecordRequest(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.requestsTotal.WithLabelValues(op, status).Inc()
	m.requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordPredictions counts classified records.
func (m *Metrics) RecordPredictions(total, highRisk int) {
	if m == nil || total <= 0 {
		return
	}
	if highRisk > 0 {
		m.predictionsTotal.WithLabelValues("high").Add(float64(highRisk))
	}
	if low := total - highRisk; low > 0 {
		m.predictionsTotal.WithLabelValues("low").Add(float64(low))
	}
}

// RecordRejected counts an action refused locally.
func (m *Metrics) RecordRejected(op, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(op, reason).Inc()
}

// RecordUpload adds to the uploaded byte counter.
func (m *Metrics) RecordUpload(op string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadBytes.WithLabelValues(op).Add(float64(n))
}

// InFlightInc and InFlightDec bracket a call.
func (m *Metrics) InFlightInc() {
	if m == nil {
		return
	}
	m.inFlightRequests.Inc()
}

func (m *Metrics) InFlightDec() {
	if m == nil {
		return
	}
	m.inFlightRequests.Dec()
}

// UpdateUpstreamHealth updates the upstream health gauge.
func (m *Metrics) UpdateUpstreamHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.upstreamHealthy.Set(1)
	} else {
		m.upstreamHealthy.Set(0)
	}
}
