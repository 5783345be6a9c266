package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the most recent calls in a ring buffer.
// Used when STORAGE=memory or when sqlite is unavailable.
type MemoryStore struct {
	mu      sync.RWMutex
	calls   []Call
	byID    map[string]int // ID -> index in calls
	maxRows int
	head    int // next write position
	count   int
}

// NewMemoryStore creates a ring buffer holding up to maxRows calls.
func NewMemoryStore(maxRows int) *MemoryStore {
	if maxRows < 1 {
		maxRows = 1
	}
	return &MemoryStore{
		calls:   make([]Call, maxRows),
		byID:    make(map[string]int),
		maxRows: maxRows,
	}
}

func (s *MemoryStore) Insert(c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == s.maxRows {
		delete(s.byID, s.calls[s.head].ID)
	}

	s.calls[s.head] = *c
	s.byID[c.ID] = s.head

	s.head = (s.head + 1) % s.maxRows
	if s.count < s.maxRows {
		s.count++
	}
	return nil
}

func (s *MemoryStore) Update(id string, upd CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil
	}
	upd.apply(&s.calls[idx])
	return nil
}

func (u CallUpdate) apply(c *Call) {
	if u.TSEnd != nil {
		end := *u.TSEnd
		c.TSEnd = &end
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Reason != nil {
		c.Reason = *u.Reason
	}
	if u.HTTPStatus != nil {
		c.HTTPStatus = *u.HTTPStatus
	}
	if u.DurationMs != nil {
		c.DurationMs = *u.DurationMs
	}
	if u.RecordCount != nil {
		c.RecordCount = *u.RecordCount
	}
	if u.HighRiskCount != nil {
		c.HighRiskCount = *u.HighRiskCount
	}
	if u.ModelID != nil {
		c.ModelID = *u.ModelID
	}
	if u.Error != nil {
		c.Error = *u.Error
	}
}

func (s *MemoryStore) GetByID(id string) (*Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	c := s.calls[idx]
	return &c, nil
}

func (s *MemoryStore) List(opts ListOptions) ([]Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := int64(0)
	if opts.Window > 0 {
		cutoff = time.Now().UnixMilli() - opts.Window.Milliseconds()
	}

	var filtered []Call
	for _, c := range s.collectOrdered() {
		if opts.Status != nil && c.Status != *opts.Status {
			continue
		}
		if opts.Op != "" && c.Op != opts.Op {
			continue
		}
		if opts.SessionID != "" && c.SessionID != opts.SessionID {
			continue
		}
		if cutoff > 0 && c.TSStart < cutoff {
			continue
		}
		filtered = append(filtered, c)
	}

	if opts.Offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

func (s *MemoryStore) Overview(window time.Duration) (*Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	var o Overview
	var durations []int
	for _, c := range s.collectOrdered() {
		if c.TSStart < cutoff {
			continue
		}

		o.TotalCalls++
		switch c.Status {
		case StatusSuccess:
			o.SuccessCount++
		case StatusError:
			o.ErrorCount++
		case StatusRejected:
			o.RejectedCount++
		}
		if c.Status != StatusInFlight && c.Status != StatusRejected {
			durations = append(durations, c.DurationMs)
		}
		if c.Status == StatusSuccess && isPrediction(c.Op) {
			o.RecordsPredicted += c.RecordCount
			o.HighRiskPredicted += c.HighRiskCount
		}
		o.UploadedBytes += c.RequestBytes
	}

	if o.TotalCalls > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalCalls)
	}
	if len(durations) > 0 {
		sum := 0
		for _, d := range durations {
			sum += d
		}
		o.AvgDurationMs = sum / len(durations)
		o.P95DurationMs = percentileInt(durations, 0.95)
	}
	return &o, nil
}

func (s *MemoryStore) OpStats(window time.Duration) ([]OpStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	byOp := make(map[string][]Call)
	for _, c := range s.collectOrdered() {
		if c.TSStart < cutoff || c.Op == "" {
			continue
		}
		byOp[c.Op] = append(byOp[c.Op], c)
	}

	stats := make([]OpStat, 0, len(byOp))
	for op, calls := range byOp {
		st := OpStat{Op: op, CallCount: len(calls)}

		var success, durSum int
		var durations []int
		for _, c := range calls {
			switch c.Status {
			case StatusSuccess:
				success++
			case StatusError:
				st.ErrorCount++
			case StatusRejected:
				st.RejectedCount++
			}
			if c.Status != StatusInFlight && c.Status != StatusRejected {
				durations = append(durations, c.DurationMs)
				durSum += c.DurationMs
			}
			if c.TSStart > st.LastCallAt {
				st.LastCallAt = c.TSStart
			}
		}

		st.SuccessRate = float64(success) / float64(st.CallCount)
		if len(durations) > 0 {
			st.AvgDurationMs = durSum / len(durations)
			st.DurationP95Ms = percentileInt(durations, 0.95)
		}
		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].CallCount != stats[j].CallCount {
			return stats[i].CallCount > stats[j].CallCount
		}
		return stats[i].Op < stats[j].Op
	})
	return stats, nil
}

func (s *MemoryStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, cutoff, intervalMs := seriesBins(opts.Window, time.Now())
	if !knownMetric(opts.Metric) {
		return points, nil
	}
	binValues := make([][]float64, len(points))

	for _, c := range s.collectOrdered() {
		if opts.Op != "" && c.Op != opts.Op {
			continue
		}
		idx, ok := binIndex(c.TSStart, cutoff, intervalMs, len(points))
		if !ok {
			continue
		}

		switch opts.Metric {
		case MetricCallCount:
			binValues[idx] = append(binValues[idx], 1)
		case MetricErrorCount:
			if c.Status == StatusError {
				binValues[idx] = append(binValues[idx], 1)
			}
		case MetricDurationP95:
			if c.Status != StatusInFlight && c.Status != StatusRejected {
				binValues[idx] = append(binValues[idx], float64(c.DurationMs))
			}
		case MetricRecords:
			if c.Status == StatusSuccess {
				binValues[idx] = append(binValues[idx], float64(c.RecordCount))
			}
		}
	}

	fillSeries(points, opts.Metric, binValues)
	return points, nil
}

func (s *MemoryStore) InFlightCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		if s.calls[idx].Status == StatusInFlight {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// collectOrdered returns calls newest first.
func (s *MemoryStore) collectOrdered() []Call {
	if s.count == 0 {
		return nil
	}
	out := make([]Call, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		out = append(out, s.calls[idx])
	}
	return out
}
