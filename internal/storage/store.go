// Package storage keeps the activity log: one row per outbound call to the
// prediction API. Only metadata is stored, never uploaded file contents or
// feature values.
package storage

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusInFlight Status = "in_flight"
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	// StatusRejected marks an action refused locally, before any request.
	StatusRejected Status = "rejected"
)

// Reason narrows down an error or rejection.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonAPIError        Reason = "api_error"
	ReasonTransport       Reason = "transport_error"
	ReasonInvalidFormat   Reason = "invalid_format"
	ReasonCanceled        Reason = "canceled"
	ReasonNoFile          Reason = "no_file"
	ReasonUnsupportedType Reason = "unsupported_type"
	ReasonTooLarge        Reason = "too_large"
	ReasonInvalidInput    Reason = "invalid_input"
	ReasonNoModel         Reason = "no_model"
	ReasonBusy            Reason = "busy"
)

// Call is one user action against the prediction API.
type Call struct {
	ID        string `json:"id"`
	TSStart   int64  `json:"ts_start"` // unix ms
	TSEnd     *int64 `json:"ts_end"`   // nil while in flight
	Op        string `json:"op"`
	Status    Status `json:"status"`
	Reason    Reason `json:"reason,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	HTTPStatus   int    `json:"http_status"`
	DurationMs   int    `json:"duration_ms"`
	RequestBytes int64  `json:"request_bytes"`
	FileName     string `json:"file_name,omitempty"`

	RecordCount   int    `json:"record_count"`
	HighRiskCount int    `json:"high_risk_count"`
	ModelID       string `json:"model_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CallUpdate holds the fields that are filled in when a call completes.
type CallUpdate struct {
	TSEnd         *int64
	Status        *Status
	Reason        *Reason
	HTTPStatus    *int
	DurationMs    *int
	RecordCount   *int
	HighRiskCount *int
	ModelID       *string
	Error         *string
}

// ListOptions filters List.
type ListOptions struct {
	Limit     int
	Offset    int
	Status    *Status
	Op        string
	SessionID string
	Window    time.Duration
}

// Overview summarises a time window.
type Overview struct {
	TotalCalls        int     `json:"total_calls"`
	SuccessCount      int     `json:"success_count"`
	ErrorCount        int     `json:"error_count"`
	RejectedCount     int     `json:"rejected_count"`
	SuccessRate       float64 `json:"success_rate"`
	AvgDurationMs     int     `json:"avg_duration_ms"`
	P95DurationMs     int     `json:"p95_duration_ms"`
	RecordsPredicted  int     `json:"records_predicted"`
	HighRiskPredicted int     `json:"high_risk_predicted"`
	UploadedBytes     int64   `json:"uploaded_bytes"`
}

// OpStat is the rollup for one operation.
type OpStat struct {
	Op            string  `json:"op"`
	CallCount     int     `json:"call_count"`
	SuccessRate   float64 `json:"success_rate"`
	ErrorCount    int     `json:"error_count"`
	RejectedCount int     `json:"rejected_count"`
	AvgDurationMs int     `json:"avg_duration_ms"`
	DurationP95Ms int     `json:"duration_p95_ms"`
	LastCallAt    int64   `json:"last_call_at"`
}

// DataPoint is one bin of a time series.
type DataPoint struct {
	Timestamp int64   `json:"ts"` // unix ms, bin start
	Value     float64 `json:"value"`
}

// isPrediction reports whether op produces risk classifications.
func isPrediction(op string) bool {
	return strings.HasPrefix(op, "predict_")
}

// Series metric names.
const (
	MetricCallCount   = "call_count"
	MetricErrorCount  = "error_count"
	MetricDurationP95 = "duration_p95"
	MetricRecords     = "records"
)

func knownMetric(m string) bool {
	switch m {
	case MetricCallCount, MetricErrorCount, MetricDurationP95, MetricRecords:
		return true
	}
	return false
}

// SeriesOptions configures Series.
type SeriesOptions struct {
	Window time.Duration
	Metric string
	Op     string // optional filter
}

// Store is the activity log.
type Store interface {
	// Insert records a call when it starts.
	Insert(c *Call) error

	// Update fills in a call when it completes. Unknown ids are ignored.
	Update(id string, upd CallUpdate) error

	// GetByID returns nil, nil when the call is not stored.
	GetByID(id string) (*Call, error)

	// List returns calls newest first.
	List(opts ListOptions) ([]Call, error)

	Overview(window time.Duration) (*Overview, error)

	// OpStats returns one rollup per operation seen in the window.
	OpStats(window time.Duration) ([]OpStat, error)

	Series(opts SeriesOptions) ([]DataPoint, error)

	InFlightCount() (int, error)

	Close() error
}

// GetBinConfig returns the number of bins and bin width for a window.
func GetBinConfig(window time.Duration) (bins int, interval time.Duration) {
	switch {
	case window <= time.Hour:
		return 60, time.Minute
	case window <= 24*time.Hour:
		return 96, 15 * time.Minute
	default:
		return 168, time.Hour
	}
}

// seriesBins lays out empty bins covering [now-window, now).
func seriesBins(window time.Duration, now time.Time) (points []DataPoint, cutoff int64, intervalMs int64) {
	bins, interval := GetBinConfig(window)
	start := now.Add(-window)
	points = make([]DataPoint, bins)
	for i := range points {
		points[i] = DataPoint{Timestamp: start.Add(time.Duration(i) * interval).UnixMilli()}
	}
	return points, start.UnixMilli(), interval.Milliseconds()
}

// binIndex maps a timestamp to its bin. A call started at exactly "now"
// lands in the last bin.
func binIndex(ts, cutoff, intervalMs int64, bins int) (int, bool) {
	if ts < cutoff {
		return 0, false
	}
	idx := int((ts - cutoff) / intervalMs)
	if idx == bins {
		idx--
	}
	return idx, idx < bins
}

// fillSeries aggregates per-bin samples into points.
func fillSeries(points []DataPoint, metric string, binValues [][]float64) {
	for i, vals := range binValues {
		if len(vals) == 0 {
			continue
		}
		switch metric {
		case MetricDurationP95:
			points[i].Value = percentile(vals, 0.95)
		default:
			sum := 0.0
			for _, v := range vals {
				sum += v
			}
			points[i].Value = sum
		}
	}
}

func percentile(vals []float64, p float64) float64 {
	sort.Float64s(vals)
	idx := int(float64(len(vals)) * p)
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

func percentileInt(vals []int, p float64) int {
	if len(vals) == 0 {
		return 0
	}
	sort.Ints(vals)
	idx := int(float64(len(vals)) * p)
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}
